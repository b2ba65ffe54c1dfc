// 包 session：匿名会话的创建、持久化、按活动续期与过期清理
package session

import (
	"errors"
	"time"
)

var (
	// ErrNoSession：存储中没有有效会话（缺失、过期或记录损坏）
	ErrNoSession = errors.New("session: no valid session")
	// ErrClosed：管理器已拆除
	ErrClosed = errors.New("session: manager closed")
)

// Session：不透明令牌 + 滑动过期时间戳
type Session struct {
	Token          string    `json:"token"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ValidAt：令牌非空且 now-LastActivityAt < ttl
func (s Session) ValidAt(now time.Time, ttl time.Duration) bool {
	return s.Token != "" && now.Sub(s.LastActivityAt) < ttl
}

// Activity：用户活动类型
type Activity int

const (
	ActivityClick Activity = iota
	ActivityScroll
	ActivityTouch
	ActivityVisibility
	ActivityKeystroke
)

// Qualifies：键盘输入不触发续期，避免在输入文本时插入后台请求
func (a Activity) Qualifies() bool { return a != ActivityKeystroke }

func (a Activity) String() string {
	switch a {
	case ActivityClick:
		return "click"
	case ActivityScroll:
		return "scroll"
	case ActivityTouch:
		return "touch"
	case ActivityVisibility:
		return "visibility"
	case ActivityKeystroke:
		return "keystroke"
	}
	return "unknown"
}

// EventKind：会话事件类型
type EventKind int

const (
	EventCreated   EventKind = iota // 首次或过期后新建
	EventRecreated                  // 续期失败后透明重建
	EventExpired                    // 周期巡检发现静默过期
	EventReset                      // 显式登出后重置
	EventLogin                      // 登录用户记录写入
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventRecreated:
		return "recreated"
	case EventExpired:
		return "expired"
	case EventReset:
		return "reset"
	case EventLogin:
		return "login"
	}
	return "unknown"
}

// Event：通过显式订阅列表投递，不走全局事件总线
type Event struct {
	Kind     EventKind
	Token    string
	Previous string
	At       time.Time
}

// Status：供界面展示的会话状态
type Status struct {
	Token          string
	Valid          bool
	Initializing   bool
	LastActivityAt time.Time
}

// Scope：后端请求作用域；Bearer 非空时优先于匿名会话
type Scope struct {
	Token  string
	Bearer string
}
