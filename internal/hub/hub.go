package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"mapsync/internal/domain"
)

type Client struct {
	ID    string
	Send  chan []byte
	tiles map[string]struct{}
	mu    sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, bufferSize),
		tiles: make(map[string]struct{}),
	}
}

func (c *Client) HasTile(tileID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tiles[tileID]
	return ok
}

func (c *Client) AddTiles(tileIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tileIDs {
		c.tiles[id] = struct{}{}
	}
}

func (c *Client) RemoveTiles(tileIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tileIDs {
		delete(c.tiles, id)
	}
}

func (c *Client) GetTiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tiles := make([]string, 0, len(c.tiles))
	for id := range c.tiles {
		tiles = append(tiles, id)
	}
	return tiles
}

// Event is an engine signal sent to every client regardless of tiles
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Stats are hub counters
type Stats struct {
	Clients         int   `json:"clients"`
	SubscribedTiles int   `json:"subscribedTiles"`
	DeltasSent      int64 `json:"deltasSent"`
	EventsSent      int64 `json:"eventsSent"`
	Dropped         int64 `json:"dropped"`
}

// Hub fans out surface changes to websocket clients subscribed to map tiles
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	tileClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []domain.ElementDelta
	events     chan Event

	deltasSent atomic.Int64
	eventsSent atomic.Int64
	dropped    atomic.Int64

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		tileClients: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client, 16),
		unregister:  make(chan *Client, 16),
		broadcast:   make(chan []domain.ElementDelta, 256),
		events:      make(chan Event, 256),
		logger:      logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case deltas := <-h.broadcast:
			h.fanoutDeltas(deltas)

		case ev := <-h.events:
			h.fanoutEvent(ev)
		}
	}
}

func (h *Hub) Subscribe(client *Client, tileIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddTiles(tileIDs)

	for _, tileID := range tileIDs {
		if h.tileClients[tileID] == nil {
			h.tileClients[tileID] = make(map[*Client]struct{})
		}
		h.tileClients[tileID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, tileIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveTiles(tileIDs)

	for _, tileID := range tileIDs {
		if h.tileClients[tileID] != nil {
			delete(h.tileClients[tileID], client)
			if len(h.tileClients[tileID]) == 0 {
				delete(h.tileClients, tileID)
			}
		}
	}
}

// Broadcast queues surface deltas; it never blocks the caller
func (h *Hub) Broadcast(deltas []domain.ElementDelta) {
	if len(deltas) == 0 {
		return
	}
	select {
	case h.broadcast <- deltas:
	default:
		h.dropped.Add(int64(len(deltas)))
		h.logger.Warn("broadcast channel full, dropping deltas", "count", len(deltas))
	}
}

// Publish queues an event for all clients; it never blocks the caller
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("event channel full, dropping event", "type", ev.Type)
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	clients, tiles := len(h.clients), len(h.tileClients)
	h.mu.RUnlock()
	return Stats{
		Clients:         clients,
		SubscribedTiles: tiles,
		DeltasSent:      h.deltasSent.Load(),
		EventsSent:      h.eventsSent.Load(),
		Dropped:         h.dropped.Load(),
	}
}

type DeltaMessage struct {
	Type    string       `json:"type"`
	Payload DeltaPayload `json:"payload"`
}

type ElementPayload struct {
	Handle  domain.Handle   `json:"handle"`
	Element *domain.Element `json:"element"`
}

type DeltaPayload struct {
	Adds    []ElementPayload `json:"adds,omitempty"`
	Removes []domain.Handle  `json:"removes,omitempty"`
}

func (h *Hub) fanoutDeltas(deltas []domain.ElementDelta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientDeltas := make(map[*Client][]domain.ElementDelta)
	for _, d := range deltas {
		seen := make(map[*Client]struct{})
		for _, tileID := range d.TileIDs {
			for client := range h.tileClients[tileID] {
				if _, ok := seen[client]; ok {
					continue
				}
				seen[client] = struct{}{}
				clientDeltas[client] = append(clientDeltas[client], d)
			}
		}
	}

	for client, ds := range clientDeltas {
		data, err := json.Marshal(BuildDeltaMessage(ds))
		if err != nil {
			h.logger.Error("failed to encode deltas", "error", err)
			continue
		}
		h.deltasSent.Add(int64(len(ds)))
		h.send(client, data)
	}
}

func (h *Hub) fanoutEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	h.eventsSent.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		h.send(client, data)
	}
}

func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.dropped.Add(1)
		h.logger.Debug("client send buffer full", "client_id", client.ID)
	}
}

// BuildDeltaMessage groups deltas into adds and removes
func BuildDeltaMessage(deltas []domain.ElementDelta) DeltaMessage {
	var payload DeltaPayload
	for _, d := range deltas {
		switch d.Type {
		case domain.DeltaAdd:
			payload.Adds = append(payload.Adds, ElementPayload{Handle: d.Handle, Element: d.Element})
		case domain.DeltaRemove:
			payload.Removes = append(payload.Removes, d.Handle)
		}
	}
	return DeltaMessage{Type: "delta", Payload: payload}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	for _, tileID := range client.GetTiles() {
		if h.tileClients[tileID] != nil {
			delete(h.tileClients[tileID], client)
			if len(h.tileClients[tileID]) == 0 {
				delete(h.tileClients, tileID)
			}
		}
	}

	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.tileClients = make(map[string]map[*Client]struct{})
}
