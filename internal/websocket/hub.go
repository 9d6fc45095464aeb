package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// KeyChecker 判断密钥是否存在
type KeyChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// Message 推送给客户端的消息
type Message struct {
	Type      string         `json:"type"`
	Key       string         `json:"key,omitempty"`
	ID        string         `json:"id,omitempty"`
	Letter    *domain.Letter `json:"letter,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MessageTypePing 心跳
const MessageTypePing = "ping"

// Client 代表一个WebSocket客户端连接，只接收一个密钥的事件
type Client struct {
	ID   string
	Key  string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub 管理所有WebSocket连接
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	keys       map[string]map[string]*Client // key -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.LetterEvent
	done       chan struct{}
	mu         sync.RWMutex

	allowedOrigins []string
	keyChecker     KeyChecker
	log            *zap.Logger
	metrics        *monitoring.Metrics
}

// NewHub 创建WebSocket Hub
func NewHub(allowedOrigins []string, keys KeyChecker, log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		keys:           make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan domain.LetterEvent, 256),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
		keyChecker:     keys,
		log:            logger.OrNop(log).Named("websocket"),
		metrics:        metrics,
	}
}

// Run 启动Hub，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.keys[client.Key] == nil {
				h.keys[client.Key] = make(map[string]*Client)
			}
			h.keys[client.Key][client.ID] = client
			h.mu.Unlock()
			h.metrics.AddWebSocketClients(1)
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("key", client.Key))

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.broadcastToKey(event)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// Publish 推送信件事件，不阻塞调用方
func (h *Hub) Publish(event domain.LetterEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast queue full, event dropped",
			zap.String("type", event.Type),
			zap.String("key", event.Key),
		)
	}
}

// ClientCount 订阅某个密钥的连接数
func (h *Hub) ClientCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.keys[key])
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if clients, exists := h.keys[client.Key]; exists {
		delete(clients, client.ID)
		if len(clients) == 0 {
			delete(h.keys, client.Key)
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	h.metrics.AddWebSocketClients(-1)
	h.log.Debug("client unregistered", zap.String("id", client.ID))
}

// broadcastToKey 向订阅该密钥的客户端广播事件
func (h *Hub) broadcastToKey(event domain.LetterEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.keys[event.Key]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(&Message{
		Type:      event.Type,
		Key:       event.Key,
		ID:        event.ID,
		Letter:    event.Letter,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
		h.metrics.AddWebSocketClients(-1)
	}
	h.clients = make(map[string]*Client)
	h.keys = make(map[string]map[string]*Client)
}

// Handler 处理 /api/ws?key= 连接，密钥必须存在
func (h *Hub) Handler() gin.HandlerFunc {
	upgrader := upgraderFactory(h.allowedOrigins)

	return func(c *gin.Context) {
		key := c.Query("key")
		if err := h.checkKey(c.Request.Context(), key); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, domain.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"code": status, "msg": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:   uuid.NewString(),
			Key:  key,
			conn: conn,
			send: make(chan []byte, 64),
			hub:  h,
		}

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (h *Hub) checkKey(ctx context.Context, key string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	if h.keyChecker == nil {
		return nil
	}
	exists, err := h.keyChecker.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

// readPump 只处理心跳与关闭
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
