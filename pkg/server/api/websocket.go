package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/oracle"
)

// WebSocketServer streams aggregation results to connected clients. It
// implements engine.Publisher.
type WebSocketServer struct {
	addr     string
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	updates chan oracle.AggregatedPrice

	ctx    context.Context
	cancel context.CancelFunc
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn             *websocket.Conn
	send             chan []byte
	server           *WebSocketServer
	subscribedAll    bool
	subscribedAssets map[string]bool
	mu               sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type   string   `json:"type"`   // "subscribe", "unsubscribe", "ping"
	Assets []string `json:"assets"` // Asset symbols to subscribe to
}

// AggregationMessage is sent to clients on every successful aggregation round.
type AggregationMessage struct {
	Type       string `json:"type"` // "aggregated_price"
	Asset      string `json:"asset"`
	Price      string `json:"price"`
	Timestamp  uint64 `json:"timestamp"`
	NumSources uint32 `json:"num_sources"`
	Confidence uint32 `json:"confidence"`
	Deviation  uint32 `json:"deviation"`
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(addr string, logger *logging.Logger) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketServer{
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
		updates: make(chan oracle.AggregatedPrice, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the WebSocket server and blocks until Stop is called.
func (s *WebSocketServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.broadcastUpdates()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err)
		}
	}()

	<-s.ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Stop stops the WebSocket server.
func (s *WebSocketServer) Stop() {
	s.cancel()
}

// PublishAggregated queues an aggregation result for broadcast. Never blocks
// the engine: a full queue drops the update.
func (s *WebSocketServer) PublishAggregated(p oracle.AggregatedPrice) {
	select {
	case s.updates <- p:
	default:
		s.logger.Warn("Update channel full, dropping aggregation broadcast", "asset", p.Asset)
	}
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		conn:             conn,
		send:             make(chan []byte, 256),
		server:           s,
		subscribedAll:    true,
		subscribedAssets: make(map[string]bool),
	}

	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr())
}

func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *WebSocketServer) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case p := <-s.updates:
			s.broadcast(p)
		}
	}
}

func (s *WebSocketServer) broadcast(p oracle.AggregatedPrice) {
	message := AggregationMessage{
		Type:       "aggregated_price",
		Asset:      p.Asset,
		Price:      decimal.New(int64(p.Price), -7).String(),
		Timestamp:  p.Timestamp,
		NumSources: p.NumSources,
		Confidence: p.Confidence,
		Deviation:  p.Deviation,
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal aggregation broadcast", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if client.shouldReceive(p.Asset) {
			select {
			case client.send <- data:
			default:
				s.logger.Warn("Client send buffer full, skipping update")
			}
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Assets)
	case "unsubscribe":
		c.unsubscribe(msg.Assets)
	case "ping":
		c.sendPong()
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

func (c *WebSocketClient) subscribe(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assets) == 0 || (len(assets) == 1 && assets[0] == "*") {
		c.subscribedAll = true
		c.subscribedAssets = make(map[string]bool)
	} else {
		c.subscribedAll = false
		for _, asset := range assets {
			c.subscribedAssets[asset] = true
		}
	}

	c.server.logger.Debug("Client subscribed", "assets", assets)
}

func (c *WebSocketClient) unsubscribe(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assets) == 0 || (len(assets) == 1 && assets[0] == "*") {
		c.subscribedAll = false
		c.subscribedAssets = make(map[string]bool)
	} else {
		for _, asset := range assets {
			delete(c.subscribedAssets, asset)
		}
	}

	c.server.logger.Debug("Client unsubscribed", "assets", assets)
}

func (c *WebSocketClient) shouldReceive(asset string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.subscribedAll || c.subscribedAssets[asset]
}

func (c *WebSocketClient) sendPong() {
	pong := map[string]string{"type": "pong"}
	data, _ := json.Marshal(pong)
	select {
	case c.send <- data:
	default:
	}
}
