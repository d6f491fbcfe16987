// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/heading"
	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/Corphon/ScreenplayStudio/internal/models"
	"github.com/Corphon/ScreenplayStudio/internal/reorder"
	"github.com/Corphon/ScreenplayStudio/internal/services"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	SceneService     *services.SceneService     // 场景服务
	CharacterService *services.CharacterService // 角色服务
	Catalog          *i18n.Catalog              // 语言包
	Metrics          *utils.APIMetrics          // 指标
	WebSocketHandler *WebSocketHandler          // WebSocket 处理器
	WebSockets       *WebSocketManager          // WebSocket 连接管理
	Response         *ResponseHelper            // 响应助手
	limiter          *RateLimiter
}

// NewHandler 创建API处理器
func NewHandler(scenes *services.SceneService, characters *services.CharacterService, catalog *i18n.Catalog, metrics *utils.APIMetrics) *Handler {
	rh := NewResponseHelper(catalog)
	manager := NewWebSocketManager(metrics)
	return &Handler{
		SceneService:     scenes,
		CharacterService: characters,
		Catalog:          catalog,
		Metrics:          metrics,
		WebSocketHandler: NewWebSocketHandler(scenes, characters, manager, rh),
		WebSockets:       manager,
		Response:         rh,
		limiter:          NewRateLimiter(),
	}
}

// Close 关闭所有 WebSocket 连接并停止限流器
func (h *Handler) Close() {
	h.WebSockets.Shutdown()
	h.limiter.Stop()
}

// NoticeView 带本地化文案的临时提示
type NoticeView struct {
	reorder.Notice
	Message string `json:"message"`
}

// StateView 排序状态
type StateView struct {
	Reordering  bool        `json:"reordering"`
	DragEnabled bool        `json:"drag_enabled"`
	Notice      *NoticeView `json:"notice,omitempty"`
	ActiveID    string      `json:"active_id,omitempty"`
}

func localizeNotice(loc *i18n.Localizer, n *reorder.Notice) *NoticeView {
	if n == nil {
		return nil
	}
	return &NoticeView{Notice: *n, Message: loc.T(n.Key)}
}

// ClassifyRequest 场景标题分类请求
type ClassifyRequest struct {
	Heading *string `json:"heading" binding:"required"`
}

// ClassifyResponse 场景标题分类结果
type ClassifyResponse struct {
	Descriptor heading.Descriptor `json:"descriptor"`
	Badges     heading.Badges     `json:"badges"`
}

// LocaleRequest 语言选择请求
type LocaleRequest struct {
	Lang string `json:"lang" binding:"required"`
}

// SelectRequest 选中场景请求
type SelectRequest struct {
	ActiveID string `json:"active_id" binding:"required"`
}

func screenplayRef(c *gin.Context) services.ScreenplayRef {
	return services.ScreenplayRef{ProjectID: c.Param("pid"), ScreenplayID: c.Param("sid")}
}

// ===============================
// 通用
// ===============================

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"languages": h.Catalog.Languages(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ClassifyHeading 解析场景标题并返回徽章
func (h *Handler) ClassifyHeading(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}

	d := heading.Classify(*req.Heading)
	h.Response.Success(c, ClassifyResponse{Descriptor: d, Badges: heading.BadgesFor(d)})
}

// GetLocale 返回语言包
func (h *Handler) GetLocale(c *gin.Context) {
	lang := c.Param("lang")
	tree, ok := h.Catalog.Tree(lang)
	if !ok {
		h.Response.NotFound(c, "language: "+lang)
		return
	}
	h.Response.Success(c, gin.H{"lang": lang, "messages": tree})
}

// SetLocale 保存语言选择到 cookie
func (h *Handler) SetLocale(c *gin.Context) {
	var req LocaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	if !h.Catalog.Has(req.Lang) {
		h.Response.BadRequest(c, "unsupported language: "+req.Lang)
		return
	}

	loc := i18n.NewLocalizer(h.Catalog, req.Lang)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(i18n.CookieName, loc.Lang(), 365*24*3600, "/", "", false, false)
	h.Response.Success(c, gin.H{"lang": loc.Lang(), "title": loc.T("app.title")})
}

// GetMetrics 返回指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.WebSockets.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}

// ===============================
// 角色
// ===============================

// ListCharacters 按名称列出角色
func (h *Handler) ListCharacters(c *gin.Context) {
	chars, err := h.CharacterService.ListCharacters(c.Request.Context(), c.Param("pid"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, chars)
}

// CreateCharacter 创建角色
func (h *Handler) CreateCharacter(c *gin.Context) {
	var in models.CharacterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	char, err := h.CharacterService.CreateCharacter(c.Request.Context(), c.Param("pid"), in)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, char)
}

// GetCharacter 获取角色
func (h *Handler) GetCharacter(c *gin.Context) {
	char, err := h.CharacterService.GetCharacter(c.Request.Context(), c.Param("pid"), c.Param("cid"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, char)
}

// UpdateCharacter 更新角色
func (h *Handler) UpdateCharacter(c *gin.Context) {
	var in models.CharacterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	char, err := h.CharacterService.UpdateCharacter(c.Request.Context(), c.Param("pid"), c.Param("cid"), in)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, char)
}

// DeleteCharacter 删除角色
func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.CharacterService.DeleteCharacter(c.Request.Context(), c.Param("pid"), c.Param("cid")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil)
}

// ===============================
// 场景
// ===============================

// ListScenes 按顺序列出场景，?q= 过滤
func (h *Handler) ListScenes(c *gin.Context) {
	scenes, err := h.SceneService.ListScenes(c.Request.Context(), screenplayRef(c), c.Query("q"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, scenes)
}

// CreateScene 在末尾追加场景
func (h *Handler) CreateScene(c *gin.Context) {
	var in models.SceneInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	scene, err := h.SceneService.CreateScene(c.Request.Context(), screenplayRef(c), in)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, scene)
}

// GetScene 获取场景
func (h *Handler) GetScene(c *gin.Context) {
	scene, err := h.SceneService.GetScene(c.Request.Context(), screenplayRef(c), c.Param("scene_id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, scene)
}

// UpdateScene 更新场景内容
func (h *Handler) UpdateScene(c *gin.Context) {
	var in models.SceneInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	scene, err := h.SceneService.UpdateScene(c.Request.Context(), screenplayRef(c), c.Param("scene_id"), in)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, scene)
}

// DeleteScene 删除场景并重新编号
func (h *Handler) DeleteScene(c *gin.Context) {
	if err := h.SceneService.DeleteScene(c.Request.Context(), screenplayRef(c), c.Param("scene_id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil)
}

// ReorderScenes 处理一次拖放
func (h *Handler) ReorderScenes(c *gin.Context) {
	var req services.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	res, err := h.SceneService.Reorder(c.Request.Context(), screenplayRef(c), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, res)
}

// RenumberScenes 把顺序值修复为连续的 0..N-1
func (h *Handler) RenumberScenes(c *gin.Context) {
	changed, err := h.SceneService.Renumber(c.Request.Context(), screenplayRef(c))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"changed": changed})
}

// GetSceneState 返回排序状态，?q= 为客户端当前的搜索内容
func (h *Handler) GetSceneState(c *gin.Context) {
	st, err := h.SceneService.State(c.Request.Context(), screenplayRef(c), c.Query("q"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	loc := h.Response.localizer(c)
	h.Response.Success(c, StateView{
		Reordering:  st.Reordering,
		DragEnabled: st.DragEnabled,
		Notice:      localizeNotice(loc, st.Notice),
		ActiveID:    st.ActiveID,
	})
}

// SelectScene 设置当前选中的场景
func (h *Handler) SelectScene(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}
	ref := screenplayRef(c)
	if err := h.SceneService.Select(c.Request.Context(), ref, req.ActiveID); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.GetSceneState(c)
}
