// internal/reorder/coordinator.go
package reorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
)

// 默认提示自动消失时间
const (
	DefaultErrorTTL   = 3 * time.Second
	DefaultSuccessTTL = 2 * time.Second
)

// 提示文案的翻译键
const (
	KeySearchActive = "notices.reorder.searchActive"
	KeyFailed       = "notices.reorder.failed"
	KeySucceeded    = "notices.reorder.succeeded"
)

var (
	// ErrSearchActive 搜索过滤生效时拒绝排序
	ErrSearchActive = apperrors.NewReorderRejected("search active")
	// ErrInFlight 已有排序批次在写入，新的拖放被忽略
	ErrInFlight = apperrors.NewReorderRejected("reorder in flight")
	// ErrClosed 协调器已关闭
	ErrClosed = apperrors.NewReorderRejected("coordinator closed")
)

// Persister 将新的完整顺序作为一个原子批次写入
type Persister interface {
	PersistOrder(ctx context.Context, ids []string) error
}

// PersisterFunc 函数适配器
type PersisterFunc func(ctx context.Context, ids []string) error

// PersistOrder 实现 Persister
func (f PersisterFunc) PersistOrder(ctx context.Context, ids []string) error {
	return f(ctx, ids)
}

// NoticeKind 提示类型
type NoticeKind string

const (
	NoticeError   NoticeKind = "error"
	NoticeSuccess NoticeKind = "success"
)

// Notice 临时提示，到期自动清除
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Code      string     `json:"code"`
	Key       string     `json:"key"`
	Seq       uint64     `json:"seq"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// State 协调器对外可见的状态
type State struct {
	Reordering bool    `json:"reordering"`
	Notice     *Notice `json:"notice,omitempty"`
	ActiveID   string  `json:"active_id,omitempty"`
}

// Options 协调器配置
type Options struct {
	ErrorTTL   time.Duration
	SuccessTTL time.Duration
	// OnChange 在状态变化后调用（不持有锁）
	OnChange func(State)
}

// Drop 一次拖放事件
type Drop struct {
	From   int
	To     int
	Search string
	// ExpectID 可选，客户端认为位于 From 的条目
	ExpectID string
}

// Result 拖放结果
type Result struct {
	Order   []string `json:"order"`
	MovedID string   `json:"moved_id"`
	Changed bool     `json:"changed"`
}

// Coordinator 管理一个场景列表的拖拽排序
type Coordinator struct {
	mu         sync.Mutex
	persister  Persister
	opts       Options
	ids        []string
	generation uint64
	reordering bool
	notice     *Notice
	activeID   string
	seq        uint64
	timer      *time.Timer
	closed     bool
}

// NewCoordinator 创建协调器
func NewCoordinator(p Persister, opts Options) *Coordinator {
	if opts.ErrorTTL <= 0 {
		opts.ErrorTTL = DefaultErrorTTL
	}
	if opts.SuccessTTL <= 0 {
		opts.SuccessTTL = DefaultSuccessTTL
	}
	return &Coordinator{persister: p, opts: opts}
}

// reorderAllowed 拖拽开关与拖放处理共用的唯一判断
func reorderAllowed(search string, reordering bool) bool {
	return !searchActive(search) && !reordering
}

// DragEnabled 基于状态快照判断拖拽开关
func (st State) DragEnabled(search string) bool {
	return reorderAllowed(search, st.Reordering)
}

func searchActive(search string) bool {
	return strings.TrimSpace(search) != ""
}

// CanReorder 当前是否允许拖拽
func (c *Coordinator) CanReorder(search string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && reorderAllowed(search, c.reordering)
}

// Sync 用订阅推送的权威列表替换本地列表
func (c *Coordinator) Sync(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = append([]string(nil), ids...)
	c.generation++
	if c.activeID != "" && IndexOf(c.ids, c.activeID) < 0 {
		c.activeID = ""
	}
}

// IDs 返回当前本地列表的副本
func (c *Coordinator) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

// State 返回当前状态
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Select 设置当前选中的条目
func (c *Coordinator) Select(id string) {
	c.mu.Lock()
	c.activeID = id
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(st)
}

// Drop 处理一次拖放：校验、计算新顺序、批量写入并给出提示
func (c *Coordinator) Drop(ctx context.Context, d Drop) (*Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	n := len(c.ids)
	if d.From < 0 || d.From >= n || d.To < 0 || d.To >= n {
		c.mu.Unlock()
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("拖放位置无效: from=%d to=%d 共 %d 项", d.From, d.To, n), nil)
	}

	if d.From == d.To {
		res := &Result{Order: append([]string(nil), c.ids...), MovedID: c.ids[d.From]}
		c.mu.Unlock()
		return res, nil
	}

	if !reorderAllowed(d.Search, c.reordering) {
		if !searchActive(d.Search) {
			// 已有批次在写入：忽略，不排队
			c.mu.Unlock()
			return nil, ErrInFlight
		}
		c.postLocked(NoticeError, ErrSearchActive.Code, KeySearchActive)
		st := c.stateLocked()
		c.mu.Unlock()
		c.emit(st)
		return nil, ErrSearchActive
	}

	if d.ExpectID != "" && c.ids[d.From] != d.ExpectID {
		c.mu.Unlock()
		return nil, apperrors.NewConflictError("场景列表已变化，请刷新后重试", nil)
	}

	moved := c.ids[d.From]
	next, err := Move(c.ids, d.From, d.To)
	if err != nil {
		c.mu.Unlock()
		return nil, apperrors.NewValidationError("计算新顺序失败", err)
	}
	prev := c.ids
	gen := c.generation
	c.ids = next
	c.reordering = true
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(st)

	// 调用方离开不会中断写入
	persistErr := c.persister.PersistOrder(context.WithoutCancel(ctx), append([]string(nil), next...))

	c.mu.Lock()
	c.reordering = false
	if c.closed {
		c.mu.Unlock()
		if persistErr != nil {
			return nil, apperrors.NewReorderFailure("保存场景顺序失败", persistErr)
		}
		return &Result{Order: next, MovedID: moved, Changed: true}, nil
	}

	if persistErr != nil {
		if c.generation == gen {
			c.ids = prev
		}
		c.postLocked(NoticeError, "REORDER_FAILURE", KeyFailed)
		st = c.stateLocked()
		c.mu.Unlock()
		c.emit(st)
		return nil, apperrors.NewReorderFailure("保存场景顺序失败", persistErr)
	}

	c.activeID = moved
	c.postLocked(NoticeSuccess, "REORDER_SUCCEEDED", KeySucceeded)
	st = c.stateLocked()
	c.mu.Unlock()
	c.emit(st)

	return &Result{Order: append([]string(nil), next...), MovedID: moved, Changed: true}, nil
}

// Close 停止计时器；之后在途写入的结果被丢弃
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) postLocked(kind NoticeKind, code, key string) {
	ttl := c.opts.ErrorTTL
	if kind == NoticeSuccess {
		ttl = c.opts.SuccessTTL
	}

	c.seq++
	now := time.Now()
	c.notice = &Notice{
		Kind:      kind,
		Code:      code,
		Key:       key,
		Seq:       c.seq,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	seq := c.seq
	c.timer = time.AfterFunc(ttl, func() { c.expire(seq) })
}

func (c *Coordinator) expire(seq uint64) {
	c.mu.Lock()
	if c.closed || c.notice == nil || c.notice.Seq != seq {
		c.mu.Unlock()
		return
	}
	c.notice = nil
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(st)
}

func (c *Coordinator) stateLocked() State {
	st := State{Reordering: c.reordering, ActiveID: c.activeID}
	if c.notice != nil {
		n := *c.notice
		st.Notice = &n
	}
	return st
}

func (c *Coordinator) emit(st State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(st)
	}
}
