package streaming

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
)

const (
	pingInterval    = 30 * time.Second
	readDeadline    = 60 * time.Second
	writeDeadline   = 10 * time.Second
	maxClientRead   = 512
	clientSendDepth = 4
)

// ErrBroadcasterStopped is returned when joining after Stop.
var ErrBroadcasterStopped = errors.New("broadcaster stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // base64 JPEG frames
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Broadcaster pushes frames to WebSocket listeners. Listeners of one camera
// share a room, and the room is a single consumer of that camera's hub, so
// a frame is encoded and marshalled once however many listeners there are.
type Broadcaster struct {
	cameras Cameras
	encoder *JPEGEncoder
	logger  *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]*room
	stopped bool
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(cameras Cameras, encoder *JPEGEncoder, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cameras: cameras,
		encoder: encoder,
		logger:  logger,
		rooms:   make(map[string]*room),
	}
}

// room is the fan-out sink for one camera's listeners. Membership is guarded
// by the broadcaster lock.
type room struct {
	b          *Broadcaster
	cameraID   string
	consumerID string
	clients    map[*client]struct{}
	closed     bool
	closeOnce  sync.Once
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Accept implements fanout.Sink.
func (r *room) Accept(f *frame.Frame) fanout.Outcome {
	r.b.mu.RLock()
	if r.closed || len(r.clients) == 0 {
		r.b.mu.RUnlock()
		return fanout.Closed
	}
	targets := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.b.mu.RUnlock()

	data, err := r.b.encoder.Encode(f)
	if err != nil {
		return fanout.Busy
	}
	msg, err := json.Marshal(NewFrameMessage(f).WithJPEG(data))
	if err != nil {
		return fanout.Busy
	}

	delivered := 0
	for _, c := range targets {
		select {
		case c.send <- msg:
			delivered++
			recordSent(r.cameraID, KindBroadcast, len(msg))
		case <-c.done:
		default:
			broadcastSkipped.WithLabelValues(r.cameraID).Inc()
		}
	}
	if delivered == 0 {
		return fanout.Busy
	}
	return fanout.Accepted
}

// Close implements fanout.Sink. It disconnects every listener of the room.
func (r *room) Close() error {
	r.closeOnce.Do(func() {
		r.b.mu.Lock()
		if r.b.rooms[r.cameraID] == r {
			delete(r.b.rooms, r.cameraID)
		}
		r.closed = true
		clients := make([]*client, 0, len(r.clients))
		for c := range r.clients {
			clients = append(clients, c)
		}
		r.clients = map[*client]struct{}{}
		r.b.mu.Unlock()

		broadcastClients.DeleteLabelValues(r.cameraID)
		for _, c := range clients {
			c.close()
		}
	})
	return nil
}

// ServeHTTP upgrades /ws/cameras/{id} requests and streams that camera.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := r.PathValue("id")
	if cameraID == "" {
		cameraID = strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/cameras/"), "/")
	}
	if cameraID == "" {
		http.Error(w, "camera id required", http.StatusBadRequest)
		return
	}
	if _, err := b.cameras.Consumers(cameraID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("WebSocket upgrade failed", "camera_id", cameraID, "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendDepth),
		done: make(chan struct{}),
	}
	if err := b.join(cameraID, c); err != nil {
		b.logger.Warn("Broadcast join failed", "camera_id", cameraID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeDeadline))
		_ = conn.Close()
		return
	}
	b.logger.Debug("Broadcast listener joined", "camera_id", cameraID, "remote", r.RemoteAddr)

	go b.writePump(cameraID, c)
	go b.readPump(cameraID, c)
}

// join adds c to the camera's room, attaching a new room to the hub when it
// is the first listener.
func (b *Broadcaster) join(cameraID string, c *client) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrBroadcasterStopped
	}

	rm, ok := b.rooms[cameraID]
	if !ok {
		rm = &room{
			b:          b,
			cameraID:   cameraID,
			consumerID: "broadcast-" + uuid.NewString(),
			clients:    make(map[*client]struct{}),
		}
		if err := b.cameras.Attach(cameraID, fanout.Consumer{ID: rm.consumerID, Kind: KindBroadcast, Sink: rm}); err != nil {
			return err
		}
		b.rooms[cameraID] = rm
	}
	rm.clients[c] = struct{}{}
	broadcastClients.WithLabelValues(cameraID).Set(float64(len(rm.clients)))
	return nil
}

// leave removes c and detaches the room once it is empty.
func (b *Broadcaster) leave(cameraID string, c *client) {
	b.mu.Lock()
	rm, ok := b.rooms[cameraID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, member := rm.clients[c]; !member {
		b.mu.Unlock()
		return
	}
	delete(rm.clients, c)
	remaining := len(rm.clients)
	if remaining == 0 {
		delete(b.rooms, cameraID)
		rm.closed = true
	}
	b.mu.Unlock()

	if remaining > 0 {
		broadcastClients.WithLabelValues(cameraID).Set(float64(remaining))
		return
	}
	broadcastClients.DeleteLabelValues(cameraID)
	_ = b.cameras.Detach(cameraID, rm.consumerID)
}

// readPump only watches for disconnects and pongs.
func (b *Broadcaster) readPump(cameraID string, c *client) {
	defer func() {
		b.leave(cameraID, c)
		c.close()
	}()

	c.conn.SetReadLimit(maxClientRead)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("Broadcast listener read error", "camera_id", cameraID, "error", err)
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(cameraID string, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.logger.Debug("Broadcast write failed", "camera_id", cameraID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeDeadline))
			return
		}
	}
}

// Listeners returns the number of connected listeners for a camera.
func (b *Broadcaster) Listeners(cameraID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if rm, ok := b.rooms[cameraID]; ok {
		return len(rm.clients)
	}
	return 0
}

// Stop disconnects every listener and detaches all rooms.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	rooms := make([]*room, 0, len(b.rooms))
	for _, rm := range b.rooms {
		rooms = append(rooms, rm)
	}
	b.mu.Unlock()

	for _, rm := range rooms {
		_ = b.cameras.Detach(rm.cameraID, rm.consumerID)
		_ = rm.Close()
	}
}
