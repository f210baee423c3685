package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

// Reload kinds
const (
	ReloadPage = "reload"
	ReloadCSS  = "css"
)

// Message is a live reload event sent to browsers
type Message struct {
	Type string `json:"type"`
	// Hash identifies the output state; a repeat of the last hash is not sent
	Hash string `json:"hash,omitempty"`
	// Paths are the changed URL paths for css messages
	Paths []string `json:"paths,omitempty"`
}

// Hub manages the browsers connected to the live reload stream
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	clients  map[int]*client
	closed   bool
	lastHash string
	logger   logger.Logger
	recorder metrics.Recorder
}

type client struct {
	id   int
	ch   chan []byte
	done chan struct{}
}

// NewHub creates a hub
func NewHub(log logger.Logger, rec metrics.Recorder) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Hub{clients: map[int]*client{}, logger: log, recorder: rec}
}

// Clients returns the number of connected browsers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams reload events as server-sent events
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c := &client{ch: make(chan []byte, 8), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "live reload shutting down", http.StatusServiceUnavailable)
		return
	}
	c.id = h.nextID
	h.nextID++
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.recorder.SetLiveReloadClients(count)
	defer h.remove(c.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	send := func(s string) bool {
		if _, err := bw.WriteString(s); err != nil {
			h.logger.Debug("Live reload write failed", logger.WithError(err))
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(": connected\n\n") {
		return
	}

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-hb.C:
			if !send(": ping\n\n") {
				return
			}
		case data := <-c.ch:
			if !send("data: " + string(data) + "\n\n") {
				return
			}
		}
	}
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.recorder.SetLiveReloadClients(count)
	}
}

// Broadcast sends msg to every browser; browsers that cannot keep up are
// dropped. A message carrying the same hash as the previous one is
// suppressed.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode reload message", logger.WithError(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if msg.Hash != "" && msg.Hash == h.lastHash {
		h.mu.Unlock()
		h.logger.Debug("Live reload unchanged, skipped", logger.WithField("hash", msg.Hash))
		return
	}
	if msg.Hash != "" {
		h.lastHash = msg.Hash
	}
	snapshot := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range snapshot {
		select {
		case c.ch <- data:
		default:
			dropped++
			h.remove(c.id)
		}
	}
	h.recorder.IncReload(msg.Type)
	h.logger.Debug("Live reload broadcast",
		logger.WithField("type", msg.Type),
		logger.WithField("clients", len(snapshot)),
		logger.WithField("dropped", dropped))
}

// Shutdown disconnects every browser and refuses new ones
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*client{}
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
	}
	h.recorder.SetLiveReloadClients(0)
}
