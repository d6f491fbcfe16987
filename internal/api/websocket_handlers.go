// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/Corphon/ScreenplayStudio/internal/reorder"
	"github.com/Corphon/ScreenplayStudio/internal/services"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	scenes     *services.SceneService
	characters *services.CharacterService
	manager    *WebSocketManager
	response   *ResponseHelper
}

// NewWebSocketHandler 创建 WebSocket 处理器，并把排序状态变化广播到对应剧本
func NewWebSocketHandler(scenes *services.SceneService, characters *services.CharacterService, manager *WebSocketManager, rh *ResponseHelper) *WebSocketHandler {
	wh := &WebSocketHandler{
		scenes:     scenes,
		characters: characters,
		manager:    manager,
		response:   rh,
	}
	scenes.SetStateListener(wh.broadcastState)
	return wh
}

func (wh *WebSocketHandler) broadcastState(ref services.ScreenplayRef, st reorder.State) {
	wh.manager.BroadcastToTopic(ref.Collection(), func(client *WebSocketClient) interface{} {
		return stateMessage(StateView{
			Reordering:  st.Reordering,
			DragEnabled: st.DragEnabled(client.search),
			Notice:      localizeNotice(client.loc, st.Notice),
			ActiveID:    st.ActiveID,
		})
	})
}

// ScenesWebSocket 推送剧本场景列表的完整快照和排序状态
func (wh *WebSocketHandler) ScenesWebSocket(c *gin.Context) {
	ref := services.ScreenplayRef{ProjectID: c.Param("pid"), ScreenplayID: c.Param("sid")}
	search := c.Query("q")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := wh.scenes.WatchScenes(ctx, ref, search)
	if err != nil {
		wh.response.FromError(c, err)
		return
	}
	st, err := wh.scenes.State(ctx, ref, search)
	if err != nil {
		wh.response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 场景 WebSocket 升级失败: %v", err)
		return
	}

	client := newWebSocketClient(conn, ref.Collection(), search, wh.response.localizer(c))
	wh.manager.register(client)
	defer wh.manager.unregister(client)

	go client.writePump()
	client.SendMessage(connectedMessage(client))
	client.SendMessage(stateMessage(StateView{
		Reordering:  st.Reordering,
		DragEnabled: st.DragEnabled,
		Notice:      localizeNotice(client.loc, st.Notice),
		ActiveID:    st.ActiveID,
	}))

	go func() {
		for u := range updates {
			if u.Err != nil {
				client.SendMessage(errorMessage(client.loc, u.Err))
				continue
			}
			client.SendMessage(map[string]interface{}{
				"type":      "scenes",
				"scenes":    u.Scenes,
				"timestamp": time.Now().Format(time.RFC3339),
			})
		}
		// 订阅被存储层关闭
		if ctx.Err() == nil {
			client.Close()
		}
	}()

	wh.readPump(client, func(msgType string, message map[string]interface{}) {
		switch msgType {
		case "select":
			sceneID, _ := message["scene_id"].(string)
			if err := wh.scenes.Select(ctx, ref, sceneID); err != nil {
				client.SendMessage(errorMessage(client.loc, err))
			}
		default:
			log.Printf("⚠️ 未知的消息类型: %s", msgType)
		}
	})
}

// CharactersWebSocket 推送项目角色列表的完整快照
func (wh *WebSocketHandler) CharactersWebSocket(c *gin.Context) {
	projectID := c.Param("pid")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := wh.characters.WatchCharacters(ctx, projectID)
	if err != nil {
		wh.response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 角色 WebSocket 升级失败: %v", err)
		return
	}

	client := newWebSocketClient(conn, storage.CharactersPath(projectID), "", wh.response.localizer(c))
	wh.manager.register(client)
	defer wh.manager.unregister(client)

	go client.writePump()
	client.SendMessage(connectedMessage(client))

	go func() {
		for u := range updates {
			if u.Err != nil {
				client.SendMessage(errorMessage(client.loc, u.Err))
				continue
			}
			client.SendMessage(map[string]interface{}{
				"type":       "characters",
				"characters": u.Characters,
				"timestamp":  time.Now().Format(time.RFC3339),
			})
		}
		if ctx.Err() == nil {
			client.Close()
		}
	}()

	wh.readPump(client, func(msgType string, _ map[string]interface{}) {
		log.Printf("⚠️ 未知的消息类型: %s", msgType)
	})
}

// readPump 读取客户端消息直到连接断开
func (wh *WebSocketHandler) readPump(client *WebSocketClient, handle func(msgType string, message map[string]interface{})) {
	client.conn.SetReadLimit(4096)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !client.IsClosed() {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}
		client.UpdatePing()
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			log.Printf("⚠️ JSON解析失败: %v", err)
			continue
		}

		msgType, _ := message["type"].(string)
		if msgType == "ping" {
			client.SendMessage(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
			continue
		}
		handle(msgType, message)
	}
}

func connectedMessage(client *WebSocketClient) map[string]interface{} {
	return map[string]interface{}{
		"type":      "connected",
		"topic":     client.topic,
		"lang":      client.loc.Lang(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

func stateMessage(st StateView) map[string]interface{} {
	return map[string]interface{}{
		"type":      "state",
		"state":     st,
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// errorMessage 加载失败是持续性错误，客户端应一直显示直到下一次成功推送
func errorMessage(loc *i18n.Localizer, err error) map[string]interface{} {
	_, code := errorStatus(err)
	return map[string]interface{}{
		"type":       "error",
		"code":       code,
		"message":    loc.T("errors." + code),
		"persistent": code == ErrorLoadFailure,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
}
