package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// LiveHub pushes accepted readings to websocket subscribers. A new subscriber
// first receives a snapshot of the most recent readings, then one message per
// reading accepted after it connected.
type LiveHub struct {
	upgrader       websocket.Upgrader
	buffer         *RecentBuffer
	snapshotSize   int
	allowedOrigins []string
	logger         zerolog.Logger

	mutex     sync.Mutex
	clients   map[*liveClient]struct{}
	closed    bool
	published int64
	dropped   int64
}

// LiveStats contains statistics about the live feed
type LiveStats struct {
	Clients   int               `json:"clients"`
	Published int64             `json:"published"`
	Dropped   int64             `json:"dropped"`
	Buffer    RecentBufferStats `json:"buffer"`
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewLiveHub creates a hub whose snapshot holds up to snapshotSize readings
func NewLiveHub(snapshotSize int, logger zerolog.Logger, allowedOrigins ...string) *LiveHub {
	h := &LiveHub{
		buffer:         NewRecentBuffer(snapshotSize),
		snapshotSize:   snapshotSize,
		allowedOrigins: allowedOrigins,
		logger:         logger.With().Str("component", "live").Logger(),
		clients:        make(map[*liveClient]struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// Seed preloads the snapshot buffer, newest first
func (h *LiveHub) Seed(newestFirst []*models.Reading) {
	h.buffer.Seed(newestFirst)
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *LiveHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed || allowed == "*" {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the connection and registers a subscriber
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &liveClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Live client connected")

	go h.writePump(client)
	h.readPump(client)
}

// register adds the client and queues its snapshot while holding the lock, so
// no reading published concurrently is lost or delivered before the snapshot.
func (h *LiveHub) register(client *liveClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return false
	}

	readings := h.buffer.Latest(h.snapshotSize)
	snapshot, err := encodeMessage(models.MessageTypeSnapshot, models.SnapshotMessage{
		Readings: readings,
		Count:    len(readings),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode snapshot")
	} else {
		client.send <- snapshot
	}

	h.clients[client] = struct{}{}
	return true
}

func (h *LiveHub) unregister(client *liveClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Publish records the reading for future snapshots and sends it to every
// subscriber. A subscriber whose buffer is full is disconnected.
func (h *LiveHub) Publish(reading *models.Reading) {
	data, err := encodeMessage(models.MessageTypeReading, reading)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode reading message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.buffer.Add(reading)
	h.published++

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.dropped++
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn().Str("remote", client.conn.RemoteAddr().String()).Msg("Live client too slow, disconnecting")
		}
	}
}

// readPump answers client messages with an error and detects disconnects
func (h *LiveHub) readPump(client *liveClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
		h.logger.Info().Str("remote", client.conn.RemoteAddr().String()).Msg("Live client disconnected")
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		h.reply(client, models.ErrorMessage{
			Code:    "read_only",
			Message: "the live feed does not accept messages",
		})
	}
}

// reply queues a message for one subscriber if it is still registered
func (h *LiveHub) reply(client *liveClient, payload models.ErrorMessage) {
	data, err := encodeMessage(models.MessageTypeError, payload)
	if err != nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// writePump sends queued messages and keepalive pings
func (h *LiveHub) writePump(client *liveClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug().Err(err).Msg("Failed to write live message")
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber and refuses new ones
func (h *LiveHub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Stats returns current live feed statistics
func (h *LiveHub) Stats() LiveStats {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return LiveStats{
		Clients:   len(h.clients),
		Published: h.published,
		Dropped:   h.dropped,
		Buffer:    h.buffer.Stats(),
	}
}

func encodeMessage(msgType models.MessageType, payload interface{}) ([]byte, error) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
