package session

import (
	"ask4rent/internal/logger"
	"ask4rent/internal/metrics"
	"ask4rent/internal/model"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

// Service：会话服务的两个远端操作（由 backend.Client 实现）
type Service interface {
	CreateSession(ctx context.Context) (string, error)
	RenewSession(ctx context.Context, token string) error
}

// Options：会话时序；零值字段使用默认值
type Options struct {
	TTL           time.Duration // 默认 5 分钟
	RenewDebounce time.Duration // 默认 1 秒
	SweepInterval time.Duration // 默认 60 秒
	// ClearOnClose：Close 时删除持久化会话记录（对应进程拆除即销毁）
	ClearOnClose bool
	Clock        clock.Clock
	Logger       *slog.Logger
}

const (
	DefaultTTL           = 5 * time.Minute
	DefaultRenewDebounce = time.Second
	DefaultSweepInterval = time.Minute
)

// Manager：会话生命周期的唯一所有者
// 背景：活动触发去抖续期，周期巡检发现静默过期，续期失败时透明重建
// 约束：对存储的读改写全部在 mu 内完成；网络调用不持锁；并发的创建请求通过 singleflight 合并为一次
type Manager struct {
	store      *Store
	svc        Service
	clk        clock.Clock
	log        *slog.Logger
	debounce   time.Duration
	sweepEvery time.Duration
	clearOnEnd bool

	mu           sync.Mutex
	current      Session
	valid        bool
	initializing bool
	closed       bool
	renewTimer   *clock.Timer
	renewGen     uint64
	stop         chan struct{}
	done         chan struct{}

	sf singleflight.Group

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

func NewManager(st *Store, svc Service, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RenewDebounce <= 0 {
		opts.RenewDebounce = DefaultRenewDebounce
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Component("session")
	}
	return &Manager{
		store:      st,
		svc:        svc,
		clk:        opts.Clock,
		log:        opts.Logger,
		debounce:   opts.RenewDebounce,
		sweepEvery: opts.SweepInterval,
		clearOnEnd: opts.ClearOnClose,
		observers:  make(map[int]func(Event)),
	}
}

// Subscribe：注册事件观察者，返回取消函数
// 约束：回调在锁外同步调用，不得在回调内阻塞
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.obsMu.Unlock()
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Manager) publish(ev Event) {
	m.obsMu.Lock()
	fns := make([]func(Event), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.Unlock()
	m.log.Debug("session_event", "kind", ev.Kind.String())
	for _, fn := range fns {
		fn(ev)
	}
}

// EnsureSession：返回有效会话；存储中 TTL 内的记录直接恢复（不发网络请求），否则新建
// 约束：并发调用只产生一次创建请求
func (m *Manager) EnsureSession(ctx context.Context) (Session, error) {
	s, ok, err := m.restore(ctx)
	if err != nil {
		return Session{}, err
	}
	if ok {
		return s, nil
	}
	return m.createShared(ctx, func(s Session) {
		m.publish(Event{Kind: EventCreated, Token: s.Token, At: s.CreatedAt})
	})
}

// restore：从存储读取会话并同步到内存镜像
func (m *Manager) restore(ctx context.Context) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Session{}, false, ErrClosed
	}
	s, err := m.store.Read(ctx)
	if errors.Is(err, ErrNoSession) {
		m.valid = false
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}
	if !m.valid || m.current.Token != s.Token {
		metrics.SessionRestoredTotal.Inc()
		m.log.Info("session_restored")
	}
	m.current = s
	m.valid = true
	return s, true, nil
}

// createShared：合并并发创建；announce 只在本次飞行确实新建了会话时调用一次
// 约束：飞行使用脱离调用方取消的上下文，某个调用方被取消只结束它自己的等待，不影响同一飞行中的其他调用方
func (m *Manager) createShared(ctx context.Context, announce func(Session)) (Session, error) {
	fctx := context.WithoutCancel(ctx)
	ch := m.sf.DoChan("create", func() (any, error) {
		// 等待期间其他调用方可能已写入新会话
		if s, ok, err := m.restore(fctx); err != nil || ok {
			return s, err
		}
		s, err := m.create(fctx)
		if err == nil && announce != nil {
			announce(s)
		}
		return s, err
	})
	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Session{}, r.Err
		}
		return r.Val.(Session), nil
	}
}

func (m *Manager) create(ctx context.Context) (Session, error) {
	m.mu.Lock()
	m.initializing = true
	m.mu.Unlock()

	token, err := m.svc.CreateSession(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.initializing = false
	if err != nil {
		m.log.Warn("session_create_failed", "err", err)
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	if m.closed {
		return Session{}, ErrClosed
	}
	s, err := m.store.Create(ctx, token)
	if err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	m.current = s
	m.valid = true
	metrics.SessionCreatedTotal.Inc()
	m.log.Info("session_created")
	return s, nil
}

// Touch：记录一次用户活动；立即滑动本地时间戳，并重置去抖续期计时器
// 约束：键盘输入与无有效会话时忽略；去抖窗口内最多一次续期请求
func (m *Manager) Touch(a Activity) {
	if !a.Qualifies() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.valid || m.current.Token == "" {
		return
	}
	s, err := m.store.Touch(context.Background())
	switch {
	case errors.Is(err, ErrNoSession):
		m.valid = false
		return
	case err != nil:
		m.log.Warn("session_touch_failed", "err", err)
	default:
		m.current = s
	}
	if m.renewTimer != nil {
		m.renewTimer.Stop()
	}
	m.renewGen++
	gen := m.renewGen
	m.renewTimer = m.clk.AfterFunc(m.debounce, func() { m.onRenewTimer(gen) })
}

func (m *Manager) onRenewTimer(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.renewGen {
		m.mu.Unlock()
		return
	}
	m.renewTimer = nil
	m.mu.Unlock()
	m.Renew(context.Background())
}

// Renew：向会话服务续期当前令牌
// 约束：成功则滑动 LastActivityAt；失败则清除记录并透明重建，错误不向用户暴露，返回 false
func (m *Manager) Renew(ctx context.Context) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	prev := m.current
	m.mu.Unlock()
	if prev.Token == "" {
		return false
	}

	err := m.svc.RenewSession(ctx, prev.Token)
	if err == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		// 续期期间令牌可能已被重置或重建，此时不覆盖
		if m.closed || m.current.Token != prev.Token {
			return false
		}
		s := m.current
		s.LastActivityAt = m.clk.Now()
		if err := m.store.Save(ctx, s); err != nil {
			m.log.Warn("session_renew_persist_failed", "err", err)
		}
		m.current = s
		m.valid = true
		metrics.SessionRenewTotal.WithLabelValues("ok").Inc()
		return true
	}
	metrics.SessionRenewTotal.WithLabelValues("fail").Inc()
	m.log.Warn("session_renew_failed", "err", err)

	m.mu.Lock()
	if m.current.Token == prev.Token {
		_ = m.store.Clear(ctx)
		m.current = Session{}
		m.valid = false
	}
	m.mu.Unlock()

	// 其他路径已换上新令牌时只恢复，不发布 EventRecreated
	_, err = m.createShared(ctx, func(s Session) {
		m.publish(Event{Kind: EventRecreated, Token: s.Token, Previous: prev.Token, At: s.CreatedAt})
	})
	if err != nil {
		m.log.Error("session_recreate_failed", "err", err)
	}
	return false
}

// Discard：后端拒绝令牌时调用；仅当 token 仍为当前令牌时清除
func (m *Manager) Discard(ctx context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || m.current.Token != token {
		return
	}
	_ = m.store.Clear(ctx)
	m.current = Session{}
	m.valid = false
	m.renewGen++
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	m.log.Info("session_discarded")
}

// Invalidate：显式登出；清除会话与登录用户记录，立即新建会话并发布 EventReset
// 约束：即使新建失败也发布 EventReset（Token 为空），依赖方据此清空状态
func (m *Manager) Invalidate(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	prev := m.current.Token
	_ = m.store.Clear(ctx)
	_ = m.store.ClearUser(ctx)
	m.current = Session{}
	m.valid = false
	m.renewGen++
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	m.mu.Unlock()

	s, err := m.createShared(ctx, nil)
	m.publish(Event{Kind: EventReset, Token: s.Token, Previous: prev, At: m.clk.Now()})
	return s, err
}

// Sweep：检查存储中的会话是否已静默过期；过期则标记无效并发布 EventExpired
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	if m.closed || !m.valid {
		m.mu.Unlock()
		return
	}
	_, err := m.store.Read(ctx)
	if !errors.Is(err, ErrNoSession) {
		m.mu.Unlock()
		return
	}
	prev := m.current.Token
	m.current = Session{}
	m.valid = false
	m.mu.Unlock()

	metrics.SessionExpiredTotal.Inc()
	m.log.Info("session_expired")
	m.publish(Event{Kind: EventExpired, Previous: prev, At: m.clk.Now()})
}

// Start：启动周期巡检；ctx 取消或 Close 时退出
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	t := m.clk.Ticker(m.sweepEvery)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Close：拆除；取消续期计时器与巡检循环，此后所有操作为空操作或返回 ErrClosed
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.renewGen++
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	stop, done := m.stop, m.done
	var err error
	if m.clearOnEnd {
		err = m.store.Clear(context.Background())
	}
	m.current = Session{}
	m.valid = false
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return err
}

// Status：当前会话状态快照
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Token:          m.current.Token,
		Valid:          m.valid,
		Initializing:   m.initializing,
		LastActivityAt: m.current.LastActivityAt,
	}
}

// Scope：确保会话有效并附带登录用户的 Bearer 凭证
func (m *Manager) Scope(ctx context.Context) (Scope, error) {
	s, err := m.EnsureSession(ctx)
	if err != nil {
		return Scope{}, err
	}
	sc := Scope{Token: s.Token}
	m.mu.Lock()
	u, ok, err := m.store.LoadUser(ctx)
	m.mu.Unlock()
	if err != nil {
		m.log.Warn("session_user_load_failed", "err", err)
	} else if ok {
		sc.Bearer = u.AccessToken
	}
	return sc, nil
}

// Login：写入登录用户记录并发布 EventLogin
func (m *Manager) Login(ctx context.Context, u model.User) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	err := m.store.SaveUser(ctx, u)
	tok := m.current.Token
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	m.publish(Event{Kind: EventLogin, Token: tok, At: m.clk.Now()})
	return nil
}
