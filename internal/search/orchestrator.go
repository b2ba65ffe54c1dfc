package search

import (
	"ask4rent/internal/backend"
	"ask4rent/internal/geo"
	"ask4rent/internal/logger"
	"ask4rent/internal/metrics"
	"ask4rent/internal/model"
	"ask4rent/internal/session"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Backend：查询服务（由 backend.Client 实现）
type Backend interface {
	Query(ctx context.Context, token, message string) ([]model.Property, error)
	TerritorialAuthorities(ctx context.Context, token string) ([]model.TerritorialAuthority, error)
	SchoolsByTA(ctx context.Context, token, taName string) (backend.ZoneResult, error)
	RentalsBySchool(ctx context.Context, token, schoolName string) (backend.RentalsResult, error)
	Isochrone(ctx context.Context, token string, origin geo.Point, minutes int) (backend.CommuteResult, error)
}

// Sessions：会话管理（由 session.Manager 实现）
type Sessions interface {
	EnsureSession(ctx context.Context) (session.Session, error)
	Discard(ctx context.Context, token string)
	Status() session.Status
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// PlaceSearcher：通勤起点地名检索（由 backend.Places 实现）
type PlaceSearcher interface {
	Search(ctx context.Context, text string) ([]model.Place, error)
}

// Options：编排器参数；零值字段使用默认值
type Options struct {
	Calculator       *geo.Calculator
	FallbackRadiusKm float64
	Places           PlaceSearcher
	Logger           *slog.Logger
}

var (
	errSessionUnavailable = errors.New("search: session unavailable")
	errSuperseded         = errors.New("search: superseded by a newer transition")
)

// zonesState：从学校进入房源模式前的行政区视图，用于返回时免请求恢复
type zonesState struct {
	ta      model.TerritorialAuthority
	schools []model.School
	zone    *geo.ZoneGeometry
	approx  bool
	view    geo.ViewState
}

// Orchestrator：搜索模式状态机
// 背景：每次转移在锁内递增序号并同步清理无关选择，之后才发起后端请求；
// 响应到达时序号已不是最新则整体丢弃，避免旧结果覆盖新模式或新选择
// 约束：只有本组件写选择链与视口；渲染层通过 Snapshot/Subscribe 只读访问
type Orchestrator struct {
	be     Backend
	sess   Sessions
	places PlaceSearcher
	calc   *geo.Calculator
	radius float64
	log    *slog.Logger

	mu      sync.Mutex
	seq     uint64
	version uint64
	cancel  context.CancelFunc
	cur     Snapshot
	all     []model.Property
	back    *zonesState
	expired bool

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
	unsub     func()
}

func New(be Backend, sess Sessions, opts Options) *Orchestrator {
	if opts.Calculator == nil {
		opts.Calculator = geo.NewCalculator(geo.DefaultRegion)
	}
	if opts.FallbackRadiusKm <= 0 {
		opts.FallbackRadiusKm = DefaultFallbackRadiusKm
	}
	if opts.Logger == nil {
		opts.Logger = logger.Component("search")
	}
	o := &Orchestrator{
		be:        be,
		sess:      sess,
		places:    opts.Places,
		calc:      opts.Calculator,
		radius:    opts.FallbackRadiusKm,
		log:       opts.Logger,
		observers: make(map[int]func(Snapshot)),
	}
	o.cur = Snapshot{Mode: ModeHome, View: o.calc.Default, CommuteMinutes: DefaultCommuteMinutes}
	o.unsub = sess.Subscribe(o.onSessionEvent)
	return o
}

// Close：取消进行中的请求并退订会话事件
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.seq++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	if o.unsub != nil {
		o.unsub()
	}
}

func (o *Orchestrator) onSessionEvent(ev session.Event) {
	o.mu.Lock()
	switch ev.Kind {
	case session.EventExpired:
		o.expired = true
	case session.EventCreated, session.EventRecreated, session.EventReset:
		o.expired = false
	default:
		o.mu.Unlock()
		return
	}
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// Subscribe：注册快照观察者；回调在锁外调用，可能来自不同 goroutine，按 Version 判断先后
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	o.obsMu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	o.obsMu.Unlock()
	return func() {
		o.obsMu.Lock()
		delete(o.observers, id)
		o.obsMu.Unlock()
	}
}

func (o *Orchestrator) notify(s Snapshot) {
	o.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(o.observers))
	for _, fn := range o.observers {
		fns = append(fns, fn)
	}
	o.obsMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Snapshot：当前状态的只读副本
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) changedLocked() Snapshot {
	o.version++
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := o.cur
	s.Version = o.version
	s.Properties = s.Filters.apply(o.all)
	s.TotalProperties = len(o.all)
	s.TerritorialAuthorities = append([]model.TerritorialAuthority(nil), s.TerritorialAuthorities...)
	s.Schools = append([]model.School(nil), s.Schools...)
	if s.SelectedTA != nil {
		v := *s.SelectedTA
		s.SelectedTA = &v
	}
	if s.SelectedSchool != nil {
		v := *s.SelectedSchool
		s.SelectedSchool = &v
	}
	if s.SelectedProperty != nil {
		v := *s.SelectedProperty
		s.SelectedProperty = &v
	}
	if s.CommuteOrigin != nil {
		v := *s.CommuteOrigin
		s.CommuteOrigin = &v
	}
	if s.Message != nil {
		v := *s.Message
		s.Message = &v
	}
	s.StatusText = o.statusTextLocked(s)
	s.InZone = countInZone(s)
	return s
}

// countInZone：学区模式按 Zone 计，通勤模式按 Isochrone 计
func countInZone(s Snapshot) int {
	var area *geo.ZoneGeometry
	switch {
	case s.Mode == ModeCommute:
		area = s.Isochrone
	case s.Mode == ModeProperties && s.SelectedSchool != nil:
		area = s.Zone
	}
	if area.Empty() {
		return 0
	}
	n := 0
	for _, p := range s.Properties {
		if area.Contains(p.Location) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) statusTextLocked(s Snapshot) string {
	st := o.sess.Status()
	switch {
	case o.expired:
		return "Session expired"
	case st.Initializing || st.Token == "":
		return "Initializing session..."
	case s.Loading:
		return "Searching..."
	}
	if s.Mode != ModeProperties && s.Mode != ModeCommute {
		return ""
	}
	if len(s.Properties) == 0 {
		return TextNoProperties
	}
	return fmt.Sprintf("Found %d properties", len(s.Properties))
}

// resetLocked：清空选择链、结果集与过滤条件；保留通勤时长
func (o *Orchestrator) resetLocked(mode Mode) {
	minutes := o.cur.CommuteMinutes
	o.cur = Snapshot{Mode: mode, View: o.cur.View, CommuteMinutes: minutes}
	o.all = nil
}

// begin：开始一次转移
// 约束：序号递增、上一次转移的上下文取消、mutate 内的同步清理都在同一临界区内完成
func (o *Orchestrator) begin(ctx context.Context, mode Mode, loading bool, mutate func()) (uint64, context.Context, context.CancelFunc) {
	o.mu.Lock()
	o.seq++
	seq := o.seq
	if o.cancel != nil {
		o.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	mutate()
	o.cur.Mode = mode
	o.cur.Loading = loading
	o.cur.Message = nil
	o.cur.SelectedProperty = nil
	snap := o.changedLocked()
	o.mu.Unlock()

	metrics.SearchTransitionsTotal.WithLabelValues(mode.String()).Inc()
	o.log.Debug("search_transition", "mode", mode.String(), "seq", seq)
	o.notify(snap)
	return seq, cctx, cancel
}

// commit：仅当 seq 仍为最新时应用结果；否则计为过期响应并丢弃
func (o *Orchestrator) commit(seq uint64, apply func()) (Snapshot, bool) {
	o.mu.Lock()
	if seq != o.seq {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		metrics.SearchStaleResponsesTotal.Inc()
		o.log.Debug("search_stale_drop", "seq", seq)
		return snap, false
	}
	apply()
	o.cur.Loading = false
	o.cur.SelectedProperty = nil
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
	return snap, true
}

func (o *Orchestrator) current(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return seq == o.seq
}

// withSession：以有效会话执行 call；后端拒绝令牌时丢弃令牌、重建会话并重试恰好一次
func (o *Orchestrator) withSession(ctx context.Context, seq uint64, call func(token string) error) error {
	s, err := o.sess.EnsureSession(ctx)
	if err != nil {
		o.log.Warn("search_session_unavailable", "err", err)
		return fmt.Errorf("%w: %w", errSessionUnavailable, err)
	}
	err = call(s.Token)
	if !errors.Is(err, backend.ErrSessionInvalid) {
		return err
	}
	o.log.Info("search_session_rejected", "seq", seq)
	o.sess.Discard(ctx, s.Token)
	s, err = o.sess.EnsureSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", errSessionUnavailable, err)
	}
	if !o.current(seq) {
		return errSuperseded
	}
	err = call(s.Token)
	if errors.Is(err, backend.ErrSessionInvalid) {
		return fmt.Errorf("%w: %w", errSessionUnavailable, err)
	}
	return err
}

// messageFor：错误到用户消息的唯一映射
func messageFor(err error) *Message {
	switch {
	case errors.Is(err, errSessionUnavailable):
		return &Message{Level: LevelWarning, Text: TextSessionInit}
	case errors.Is(err, backend.ErrMalformed), errors.Is(err, geo.ErrMalformedGeometry):
		return &Message{Level: LevelError, Text: TextMalformed}
	}
	return &Message{Level: LevelError, Text: TextTransport}
}

func foundMessage(n int) *Message {
	if n == 0 {
		return &Message{Level: LevelInfo, Text: TextNoProperties}
	}
	return &Message{Level: LevelSuccess, Text: fmt.Sprintf("I found %d properties for you", n)}
}

func (o *Orchestrator) failed(op string, seq uint64, err error) {
	if errors.Is(err, errSuperseded) || errors.Is(err, context.Canceled) {
		o.log.Debug("search_call_abandoned", "op", op, "seq", seq)
		return
	}
	o.log.Warn("search_call_failed", "op", op, "seq", seq, "err", err)
}

func (o *Orchestrator) emptyResult(mode Mode) {
	metrics.SearchEmptyResultsTotal.WithLabelValues(mode.String()).Inc()
}
