// internal/services/scene_service.go
package services

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
	"github.com/Corphon/ScreenplayStudio/internal/models"
	"github.com/Corphon/ScreenplayStudio/internal/reorder"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
)

// ScreenplayRef 定位一个剧本的场景列表
type ScreenplayRef struct {
	ProjectID    string `json:"project_id"`
	ScreenplayID string `json:"screenplay_id"`
}

// Collection 场景集合路径
func (r ScreenplayRef) Collection() string {
	return storage.ScenesPath(r.ProjectID, r.ScreenplayID)
}

func (r ScreenplayRef) validate() error {
	return validateIDs(r.ProjectID, r.ScreenplayID)
}

// ReorderRequest 一次拖放请求
type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
	// SceneID 可选，客户端看到的位于 From 的场景
	SceneID string `json:"scene_id,omitempty"`
	Search  string `json:"search"`
}

// ScreenplayState 剧本场景列表的排序状态
type ScreenplayState struct {
	Reordering  bool            `json:"reordering"`
	DragEnabled bool            `json:"drag_enabled"`
	Notice      *reorder.Notice `json:"notice,omitempty"`
	ActiveID    string          `json:"active_id,omitempty"`
}

// ScenesUpdate 订阅推送的场景列表
type ScenesUpdate struct {
	Scenes []models.SceneView
	Err    error
}

// StateListener 排序状态变化回调
type StateListener func(ref ScreenplayRef, st reorder.State)

// DefaultIdleTTL 没有使用者后保留排序协调器的时间
const DefaultIdleTTL = time.Minute

// SceneServiceOptions 场景服务配置
type SceneServiceOptions struct {
	ErrorTTL   time.Duration
	SuccessTTL time.Duration
	// IdleTTL 最后一个使用者释放后多久回收订阅和协调器
	IdleTTL time.Duration
	Metrics *utils.APIMetrics
	Logger  *utils.Logger
}

type sceneList struct {
	ref    ScreenplayRef
	coord  *reorder.Coordinator
	cancel context.CancelFunc

	// 以下字段由 SceneService.mu 保护
	refs    int
	idleGen uint64

	syncMu   sync.Mutex
	syncedAt time.Time
}

// apply 用读取开始时间为 at 的结果刷新协调器，旧结果不会覆盖新结果
func (l *sceneList) apply(ids []string, at time.Time) {
	l.syncMu.Lock()
	defer l.syncMu.Unlock()

	if at.Before(l.syncedAt) {
		return
	}
	l.syncedAt = at
	l.coord.Sync(ids)
}

// SceneService 处理场景相关的业务逻辑
type SceneService struct {
	store   storage.Store
	locks   *LockManager
	metrics *utils.APIMetrics
	logger  *utils.Logger
	opts    SceneServiceOptions

	mu       sync.Mutex
	lists    map[string]*sceneList
	listener StateListener
	closed   bool
}

// NewSceneService 创建场景服务
func NewSceneService(store storage.Store, locks *LockManager, opts SceneServiceOptions) *SceneService {
	if opts.Metrics == nil {
		opts.Metrics = utils.NewAPIMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	return &SceneService{
		store:   store,
		locks:   locks,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		opts:    opts,
		lists:   make(map[string]*sceneList),
	}
}

// SetStateListener 设置排序状态回调（用于 WebSocket 广播）
func (s *SceneService) SetStateListener(fn StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func sceneQuery(ref ScreenplayRef) storage.Query {
	return storage.Query{Collection: ref.Collection(), OrderBy: "order"}
}

// acquire 返回剧本的排序协调器并持有一个引用，首次使用时加载并订阅场景列表
// 调用方用完后必须调用返回的 release
func (s *SceneService) acquire(ctx context.Context, ref ScreenplayRef) (*sceneList, func(), error) {
	if err := ref.validate(); err != nil {
		return nil, nil, err
	}
	col := ref.Collection()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, reorder.ErrClosed
	}
	if l, ok := s.lists[col]; ok {
		defer s.mu.Unlock()
		return l, s.hold(l), nil
	}
	s.mu.Unlock()

	at := time.Now()
	docs, err := s.store.List(ctx, sceneQuery(ref))
	if err != nil {
		return nil, nil, loadError(err, "场景列表")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, reorder.ErrClosed
	}
	if l, ok := s.lists[col]; ok {
		return l, s.hold(l), nil
	}

	l := &sceneList{ref: ref}
	l.coord = reorder.NewCoordinator(
		reorder.PersisterFunc(func(ctx context.Context, ids []string) error {
			return s.persistOrder(ctx, ref, ids)
		}),
		reorder.Options{
			ErrorTTL:   s.opts.ErrorTTL,
			SuccessTTL: s.opts.SuccessTTL,
			OnChange:   func(st reorder.State) { s.emitState(ref, st) },
		},
	)
	l.apply(docIDs(docs), at)

	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.store.Subscribe(subCtx, sceneQuery(ref))
	if err != nil {
		cancel()
		l.coord.Close()
		return nil, nil, loadError(err, "场景订阅")
	}
	l.cancel = cancel
	s.lists[col] = l

	go s.follow(subCtx, l, ch)
	return l, s.hold(l), nil
}

// hold 增加引用并取消待执行的回收，调用方需持有 s.mu
func (s *SceneService) hold(l *sceneList) func() {
	l.refs++
	l.idleGen++

	var once sync.Once
	return func() {
		once.Do(func() { s.release(l) })
	}
}

func (s *SceneService) release(l *sceneList) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs > 0 || s.closed {
		return
	}
	s.scheduleEvict(l)
}

// scheduleEvict 调用方需持有 s.mu
func (s *SceneService) scheduleEvict(l *sceneList) {
	l.idleGen++
	gen := l.idleGen
	time.AfterFunc(s.opts.IdleTTL, func() { s.evict(l, gen) })
}

// evict 回收空闲的协调器；排序进行中或提示未过期时推迟
func (s *SceneService) evict(l *sceneList, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := l.ref.Collection()
	if s.closed || l.refs > 0 || l.idleGen != gen || s.lists[col] != l {
		return
	}
	if st := l.coord.State(); st.Reordering || st.Notice != nil {
		s.scheduleEvict(l)
		return
	}

	delete(s.lists, col)
	l.cancel()
	l.coord.Close()
}

// peek 返回已存在的协调器，不创建
func (s *SceneService) peek(ref ScreenplayRef) (*sceneList, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[ref.Collection()]
	return l, ok
}

// follow 用订阅推送的快照刷新协调器的权威顺序
func (s *SceneService) follow(ctx context.Context, l *sceneList, ch <-chan storage.Snapshot) {
	for snap := range ch {
		if snap.Err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("场景订阅加载失败", map[string]interface{}{
					"collection": l.ref.Collection(),
					"error":      snap.Err.Error(),
				})
			}
			continue
		}
		l.apply(docIDs(snap.Docs), snap.At)
	}
}

func (s *SceneService) syncList(ctx context.Context, l *sceneList) error {
	at := time.Now()
	docs, err := s.store.List(ctx, sceneQuery(l.ref))
	if err != nil {
		return loadError(err, "场景列表")
	}
	l.apply(docIDs(docs), at)
	return nil
}

func (s *SceneService) emitState(ref ScreenplayRef, st reorder.State) {
	s.mu.Lock()
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(ref, st)
	}
}

// persistOrder 将完整顺序作为一个批次写入
func (s *SceneService) persistOrder(ctx context.Context, ref ScreenplayRef, ids []string) error {
	col := ref.Collection()
	err := s.locks.ExecuteWithLock(col, func() error {
		assignments := reorder.Assignments(ids)
		updates := make([]storage.Update, len(assignments))
		for i, a := range assignments {
			updates[i] = storage.Update{
				Path:   storage.DocPath(col, a.ID),
				Fields: map[string]any{"order": a.Order},
			}
		}
		return s.store.BatchUpdate(ctx, updates)
	})
	s.metrics.RecordStoreWrite("reorder", err)
	return err
}

// ListScenes 按顺序列出场景，query 非空时过滤
func (s *SceneService) ListScenes(ctx context.Context, ref ScreenplayRef, query string) ([]models.SceneView, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, sceneQuery(ref))
	if err != nil {
		return nil, loadError(err, "场景列表")
	}
	return sceneViews(docs, query)
}

// GetScene 获取单个场景
func (s *SceneService) GetScene(ctx context.Context, ref ScreenplayRef, sceneID string) (*models.SceneView, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if err := validateIDs(sceneID); err != nil {
		return nil, err
	}

	doc, err := s.store.Get(ctx, storage.DocPath(ref.Collection(), sceneID))
	if err != nil {
		return nil, loadError(err, "场景")
	}
	scene, err := sceneFromDoc(doc)
	if err != nil {
		return nil, apperrors.NewLoadFailure("解析场景失败", err)
	}
	view := models.NewSceneView(scene)
	return &view, nil
}

// CreateScene 在列表末尾创建场景
func (s *SceneService) CreateScene(ctx context.Context, ref ScreenplayRef, in models.SceneInput) (*models.SceneView, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	col := ref.Collection()

	var id string
	err := s.locks.ExecuteWithLock(col, func() error {
		docs, err := s.store.List(ctx, sceneQuery(ref))
		if err != nil {
			return loadError(err, "场景列表")
		}

		fields := in.Fields()
		if _, ok := fields["heading"]; !ok {
			fields["heading"] = ""
		}
		if _, ok := fields["blocks"]; !ok {
			fields["blocks"] = []models.Block{}
		}
		fields["order"] = len(docs)

		id, err = s.store.Create(ctx, col, fields)
		s.metrics.RecordStoreWrite("create", err)
		return writeError(err, "场景")
	})
	if err != nil {
		return nil, err
	}

	s.resync(ctx, ref)
	s.logger.Info("场景已创建", map[string]interface{}{"collection": col, "scene_id": id})
	return s.GetScene(ctx, ref, id)
}

// UpdateScene 更新场景标题或内容，不改变顺序
func (s *SceneService) UpdateScene(ctx context.Context, ref ScreenplayRef, sceneID string, in models.SceneInput) (*models.SceneView, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if err := validateIDs(sceneID); err != nil {
		return nil, err
	}
	if in.Empty() {
		return nil, apperrors.NewValidationError("没有需要更新的字段", nil)
	}

	err := s.store.Update(ctx, storage.DocPath(ref.Collection(), sceneID), in.Fields())
	s.metrics.RecordStoreWrite("update", err)
	if err != nil {
		return nil, writeError(err, "场景")
	}
	return s.GetScene(ctx, ref, sceneID)
}

// DeleteScene 删除场景并把其余场景重新编号为 0..N-1
func (s *SceneService) DeleteScene(ctx context.Context, ref ScreenplayRef, sceneID string) error {
	if err := ref.validate(); err != nil {
		return err
	}
	if err := validateIDs(sceneID); err != nil {
		return err
	}
	col := ref.Collection()

	// 删除和其余场景的重新编号在同一个批次中提交
	err := s.locks.ExecuteWithLock(col, func() error {
		docs, err := s.store.List(ctx, sceneQuery(ref))
		if err != nil {
			return loadError(err, "场景列表")
		}

		var updates []storage.Update
		if reorder.IndexOf(docIDs(docs), sceneID) >= 0 {
			updates = append(updates, storage.Update{Path: storage.DocPath(col, sceneID), Delete: true})
		}
		updates = append(updates, renumberUpdates(col, docs, sceneID)...)
		if len(updates) == 0 {
			return nil
		}

		err = s.store.BatchUpdate(ctx, updates)
		s.metrics.RecordStoreWrite("delete", err)
		return writeError(err, "场景")
	})
	if err != nil {
		return err
	}

	s.resync(ctx, ref)
	s.logger.Info("场景已删除", map[string]interface{}{"collection": col, "scene_id": sceneID})
	return nil
}

// Renumber 修复顺序值为连续的 0..N-1，返回改动的场景数
func (s *SceneService) Renumber(ctx context.Context, ref ScreenplayRef) (int, error) {
	if err := ref.validate(); err != nil {
		return 0, err
	}

	var changed int
	err := s.locks.ExecuteWithLock(ref.Collection(), func() error {
		var err error
		changed, err = s.renumberLocked(ctx, ref)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.resync(ctx, ref)
	return changed, nil
}

// renumberLocked 调用方需持有集合锁
func (s *SceneService) renumberLocked(ctx context.Context, ref ScreenplayRef) (int, error) {
	col := ref.Collection()
	docs, err := s.store.List(ctx, sceneQuery(ref))
	if err != nil {
		return 0, loadError(err, "场景列表")
	}

	updates := renumberUpdates(col, docs, "")
	if len(updates) == 0 {
		return 0, nil
	}

	err = s.store.BatchUpdate(ctx, updates)
	s.metrics.RecordStoreWrite("renumber", err)
	if err != nil {
		return 0, writeError(err, "场景顺序")
	}
	return len(updates), nil
}

// renumberUpdates 去掉 skip 后把其余文档编号为 0..N-1，只返回需要改动的项
func renumberUpdates(col string, docs []storage.Document, skip string) []storage.Update {
	current := make(map[string]int, len(docs))
	for _, d := range docs {
		current[d.ID] = orderValue(d)
	}

	var updates []storage.Update
	for _, a := range reorder.Assignments(reorder.Without(docIDs(docs), skip)) {
		if current[a.ID] == a.Order {
			continue
		}
		updates = append(updates, storage.Update{
			Path:   storage.DocPath(col, a.ID),
			Fields: map[string]any{"order": a.Order},
		})
	}
	return updates
}

// resync 写入后立即刷新协调器，不等订阅推送
func (s *SceneService) resync(ctx context.Context, ref ScreenplayRef) {
	l, ok := s.peek(ref)
	if !ok {
		return
	}
	_ = s.syncList(ctx, l)
}

// Reorder 处理一次拖放
func (s *SceneService) Reorder(ctx context.Context, ref ScreenplayRef, req ReorderRequest) (*reorder.Result, error) {
	l, release, err := s.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := s.syncList(ctx, l); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := l.coord.Drop(ctx, reorder.Drop{
		From:     req.From,
		To:       req.To,
		Search:   req.Search,
		ExpectID: req.SceneID,
	})

	outcome := "succeeded"
	switch {
	case err == nil && !res.Changed:
		outcome = "noop"
	case apperrors.IsReorderRejected(err):
		outcome = "rejected"
	case apperrors.IsReorderFailure(err):
		outcome = "failed"
	case err != nil:
		outcome = "invalid"
	}
	s.metrics.RecordReorder(outcome, time.Since(start))

	fields := map[string]interface{}{
		"collection": ref.Collection(),
		"from":       req.From,
		"to":         req.To,
		"outcome":    outcome,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("场景排序未完成", fields)
		return nil, err
	}
	s.logger.Info("场景排序完成", fields)
	return res, nil
}

// State 返回排序状态；drag_enabled 与拖放处理使用同一判断
// 没有活动协调器的剧本返回空闲状态，不会创建订阅
func (s *SceneService) State(ctx context.Context, ref ScreenplayRef, search string) (*ScreenplayState, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	l, ok := s.peek(ref)
	if !ok {
		return &ScreenplayState{DragEnabled: reorder.State{}.DragEnabled(search)}, nil
	}
	st := l.coord.State()
	return &ScreenplayState{
		Reordering:  st.Reordering,
		DragEnabled: l.coord.CanReorder(search),
		Notice:      st.Notice,
		ActiveID:    st.ActiveID,
	}, nil
}

// Select 设置当前选中的场景
func (s *SceneService) Select(ctx context.Context, ref ScreenplayRef, sceneID string) error {
	if err := validateIDs(sceneID); err != nil {
		return err
	}
	l, release, err := s.acquire(ctx, ref)
	if err != nil {
		return err
	}
	defer release()
	if err := s.syncList(ctx, l); err != nil {
		return err
	}
	if reorder.IndexOf(l.coord.IDs(), sceneID) < 0 {
		return apperrors.NewNotFoundError("场景不存在", nil)
	}
	l.coord.Select(sceneID)
	return nil
}

// WatchScenes 订阅场景列表，ctx 结束时关闭通道
func (s *SceneService) WatchScenes(ctx context.Context, ref ScreenplayRef, query string) (<-chan ScenesUpdate, error) {
	// 订阅期间持有协调器，排序状态才会广播
	_, release, err := s.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}

	ch, err := s.store.Subscribe(ctx, sceneQuery(ref))
	if err != nil {
		release()
		return nil, loadError(err, "场景订阅")
	}

	out := make(chan ScenesUpdate, 1)
	go func() {
		defer close(out)
		defer release()
		for snap := range ch {
			update := ScenesUpdate{}
			if snap.Err != nil {
				update.Err = apperrors.NewLoadFailure("加载场景列表失败", snap.Err)
			} else {
				update.Scenes, update.Err = sceneViews(snap.Docs, query)
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close 取消所有订阅并关闭协调器
func (s *SceneService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for col, l := range s.lists {
		l.cancel()
		l.coord.Close()
		delete(s.lists, col)
	}
}

func sceneFromDoc(doc storage.Document) (models.Scene, error) {
	var scene models.Scene
	if err := doc.DataTo(&scene); err != nil {
		return models.Scene{}, err
	}
	scene.ID = doc.ID
	scene.CreatedAt = doc.CreateTime
	scene.UpdatedAt = doc.UpdateTime
	if scene.Blocks == nil {
		scene.Blocks = []models.Block{}
	}
	return scene, nil
}

func sceneViews(docs []storage.Document, query string) ([]models.SceneView, error) {
	views := make([]models.SceneView, 0, len(docs))
	for _, doc := range docs {
		scene, err := sceneFromDoc(doc)
		if err != nil {
			return nil, apperrors.NewLoadFailure("解析场景失败", err)
		}
		if !scene.Matches(query) {
			continue
		}
		views = append(views, models.NewSceneView(scene))
	}
	return views, nil
}

func docIDs(docs []storage.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

func orderValue(doc storage.Document) int {
	if v, ok := doc.Fields["order"].(float64); ok {
		return int(v)
	}
	return -1
}
