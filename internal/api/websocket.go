// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendQueue    = 16
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	id        string
	conn      *websocket.Conn
	topic     string
	search    string
	loc       *i18n.Localizer
	send      chan []byte
	done      chan struct{}
	closed    int32 // 0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn *websocket.Conn, topic, search string, loc *i18n.Localizer) *WebSocketClient {
	client := &WebSocketClient{
		id:        uuid.NewString(),
		conn:      conn,
		topic:     topic,
		search:    search,
		loc:       loc,
		send:      make(chan []byte, sendQueue),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// SendMessage 发送消息；队列已满说明客户端跟不上，直接断开，客户端重连后会拿到最新快照
func (client *WebSocketClient) SendMessage(message interface{}) bool {
	if client.IsClosed() {
		return false
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ 序列化 WebSocket 消息失败: %v", err)
		return false
	}

	select {
	case client.send <- msgBytes:
		return true
	case <-client.done:
		return false
	default:
		log.Printf("⚠️ 客户端 %s 消息队列已满，断开连接", client.id)
		client.Close()
		return false
	}
}

// writePump 串行写出消息并定期 ping
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketManager 按主题（集合路径）管理所有 WebSocket 连接
type WebSocketManager struct {
	connections map[string]map[string]*WebSocketClient // topic -> client id -> client
	mutex       sync.RWMutex
	pingTimeout time.Duration
	metrics     *utils.APIMetrics
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewWebSocketManager 创建管理器并启动定期清理
func NewWebSocketManager(metrics *utils.APIMetrics) *WebSocketManager {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	manager := &WebSocketManager{
		connections: make(map[string]map[string]*WebSocketClient),
		pingTimeout: pongWait + writeWait,
		metrics:     metrics,
		stop:        make(chan struct{}),
	}
	go manager.run(30 * time.Second)
	return manager
}

// run 运行管理器主循环
func (manager *WebSocketManager) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.cleanupExpiredConnections()
		case <-manager.stop:
			manager.shutdown()
			return
		}
	}
}

// Shutdown 关闭所有连接并停止管理器
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() { close(manager.stop) })
}

// register 注册新客户端
func (manager *WebSocketManager) register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.topic] == nil {
		manager.connections[client.topic] = make(map[string]*WebSocketClient)
	}
	manager.connections[client.topic][client.id] = client
	manager.metrics.TrackWebSocket(1)

	log.Printf("✅ WebSocket 客户端已连接: %s (%s)", client.topic, client.loc.Lang())
}

// unregister 注销客户端并关闭连接
func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	if connections, exists := manager.connections[client.topic]; exists {
		if _, ok := connections[client.id]; ok {
			delete(connections, client.id)
			manager.metrics.TrackWebSocket(-1)
		}
		if len(connections) == 0 {
			delete(manager.connections, client.topic)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	log.Printf("🔌 WebSocket 客户端已断开: %s", client.topic)
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for topic, connections := range manager.connections {
		for id, client := range connections {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(connections, id)
				manager.metrics.TrackWebSocket(-1)
				client.Close()
			}
		}
		if len(connections) == 0 {
			delete(manager.connections, topic)
		}
	}
}

// shutdown 关闭所有连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 管理器...")
	for _, connections := range manager.connections {
		for _, client := range connections {
			client.Close()
			manager.metrics.TrackWebSocket(-1)
		}
	}
	manager.connections = make(map[string]map[string]*WebSocketClient)
	log.Println("✅ WebSocket 管理器已关闭")
}

// clients 返回主题下仍然打开的客户端
func (manager *WebSocketManager) clients(topic string) []*WebSocketClient {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	connections := manager.connections[topic]
	out := make([]*WebSocketClient, 0, len(connections))
	for _, client := range connections {
		if !client.IsClosed() {
			out = append(out, client)
		}
	}
	return out
}

// BroadcastToTopic 向主题下每个客户端发送按其语言生成的消息
func (manager *WebSocketManager) BroadcastToTopic(topic string, build func(client *WebSocketClient) interface{}) int {
	sent := 0
	for _, client := range manager.clients(topic) {
		if client.SendMessage(build(client)) {
			sent++
		}
	}
	return sent
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	topics := make(map[string]interface{})
	totalConnections := 0

	for topic, connections := range manager.connections {
		active := 0
		clients := make([]interface{}, 0, len(connections))
		for _, client := range connections {
			if client.IsClosed() {
				continue
			}
			active++
			clients = append(clients, map[string]interface{}{
				"id":           client.id,
				"lang":         client.loc.Lang(),
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
			})
		}
		topics[topic] = map[string]interface{}{
			"client_count": active,
			"clients":      clients,
		}
		totalConnections += active
	}

	return map[string]interface{}{
		"total_topics":         len(manager.connections),
		"total_connections":    totalConnections,
		"topics":               topics,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}
