// Package websocket pushes worksheet activity to connected clients. It
// implements a hub-and-spoke pattern where clients subscribe to topics
// and receive events broadcast to those topics: range-violation alerts
// while values change and render completions while documents rebuild.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Event types emitted by the worksheet service.
const (
	EventValidationAlert = "validation.alert"
	EventRenderComplete  = "render.complete"
	EventWorksheetClosed = "worksheet.closed"
)

// Actions a client may send over the socket.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// TopicAlerts carries every firm and hard violation regardless of
// worksheet. Per-worksheet streams use WorksheetTopic.
const TopicAlerts = "alerts"

// sendQueueDepth bounds the per-client outbound queue. A client that
// falls further behind misses events; the stream is advisory and the
// authoritative state stays on the worksheet endpoints.
const sendQueueDepth = 256

// WorksheetTopic returns the subscription topic for a single worksheet.
func WorksheetTopic(id string) string {
	return "worksheet." + id
}

// Event represents a real-time notification sent to WebSocket clients.
type Event struct {
	Type        string          `json:"type"`
	Topic       string          `json:"topic"`
	WorksheetID string          `json:"worksheetId,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event for a worksheet, marshaling payload into Data.
// A payload that fails to marshal leaves Data empty; the event header is
// still delivered.
func NewEvent(eventType, topic, worksheetID string, payload interface{}) Event {
	ev := Event{
		Type:        eventType,
		Topic:       topic,
		WorksheetID: worksheetID,
		Timestamp:   time.Now().UTC(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Data = data
		}
	}
	return ev
}

// ClientMessage is the inbound subscribe/unsubscribe protocol.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher is the seam the worksheet service publishes through, so
// tests can record events without opening sockets.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected socket. Topics mirrors the hub's index for
// this client and is only touched while the hub lock is held.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// offer enqueues a payload without blocking, so one stalled client can
// never hold up a render or a validation pass.
func (c *Client) offer(payload []byte) {
	select {
	case c.Send <- payload:
	default:
	}
}

// readLoop consumes protocol messages until the socket errors or closes,
// then tears the client down.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // not protocol traffic, skip it
		}
		c.hub.ProcessMessage(c, msg)
	}
}

// writeLoop drains the send queue onto the socket. It ends when
// Unregister closes the queue or the peer goes away.
func (c *Client) writeLoop() {
	defer c.conn.Close()

	for payload := range c.Send {
		if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// Hub routes events to subscribed clients. One RWMutex guards both the
// topic index and the connection set.
type Hub struct {
	mu    sync.RWMutex
	index map[string]map[*Client]bool // topic -> subscribers
	conns map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		index: make(map[string]map[*Client]bool),
		conns: make(map[*Client]bool),
	}
}

// enroll and withdraw maintain the topic index; callers hold the lock.
func (h *Hub) enroll(topic string, c *Client) {
	subs := h.index[topic]
	if subs == nil {
		subs = make(map[*Client]bool)
		h.index[topic] = subs
	}
	subs[c] = true
}

func (h *Hub) withdraw(topic string, c *Client) {
	subs := h.index[topic]
	if subs == nil {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.index, topic)
	}
}

// Register adds a client and indexes its initial topics.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c] = true
	for _, t := range c.Topics {
		h.enroll(t, c)
	}
}

// Unregister drops the client from every topic and closes its send
// queue. A second call for the same client is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.conns[c] {
		return
	}
	delete(h.conns, c)
	for _, t := range c.Topics {
		h.withdraw(t, c)
	}
	close(c.Send)
}

// Subscribe adds topics to an already-registered client.
func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range topics {
		h.enroll(t, c)
	}
	c.Topics = append(c.Topics, topics...)
}

// Unsubscribe removes topics from an already-registered client.
func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]bool, len(topics))
	for _, t := range topics {
		h.withdraw(t, c)
		drop[t] = true
	}

	kept := c.Topics[:0]
	for _, t := range c.Topics {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	c.Topics = kept
}

// ProcessMessage applies one inbound protocol message.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		h.Subscribe(c, msg.Topics)
	case ActionUnsubscribe:
		h.Unsubscribe(c, msg.Topics)
	}
}

// Broadcast sends an event to every subscriber of topic.
func (h *Hub) Broadcast(topic string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.index[topic] {
		c.offer(payload)
	}
}

// BroadcastAll sends an event to every connected client regardless of
// subscriptions.
func (h *Hub) BroadcastAll(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.offer(payload)
	}
}

// Publish implements EventPublisher by broadcasting to the event's own
// topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.index[event.Topic] {
		c.offer(payload)
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// TopicCount returns the number of clients subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.index[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections and hands them to the hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a new handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the request, registers the client with the hub,
// and starts its read and write loops.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Topics: []string{},
		Send:   make(chan []byte, sendQueueDepth),
		hub:    wsh.hub,
		conn:   &gorillaConn{ws},
	}
	wsh.hub.Register(client)

	go client.writeLoop()
	go client.readLoop()
	return nil
}

// gorillaConn adapts *gorillawebsocket.Conn to the Conn seam.
type gorillaConn struct {
	conn *gorillawebsocket.Conn
}

func (g *gorillaConn) ReadMessage() (int, []byte, error) {
	return g.conn.ReadMessage()
}

func (g *gorillaConn) WriteMessage(messageType int, data []byte) error {
	return g.conn.WriteMessage(messageType, data)
}

func (g *gorillaConn) Close() error {
	return g.conn.Close()
}
