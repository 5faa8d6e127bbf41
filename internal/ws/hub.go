// Package ws fans domain status events out to tenant dashboards.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/service/verify"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Event is the payload pushed when a zone changes state.
type Event struct {
	Type        string     `json:"type"`
	Domain      string     `json:"domain"`
	Status      string     `json:"status"`
	Previous    string     `json:"previous,omitempty"`
	Attempts    int        `json:"attempts"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	At          time.Time  `json:"at"`
}

// EventZoneStatus tags zone transition events.
const EventZoneStatus = "zone_status"

// Hub manages stream subscriptions by tenant ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Subscriber]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[Subscriber]struct{}),
		logger:  logger.With("component", "ws_hub"),
		now:     time.Now,
	}
}

// Register adds a client to a tenant stream.
func (h *Hub) Register(tenantID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[tenantID]; !ok {
		h.clients[tenantID] = make(map[Subscriber]struct{})
	}
	h.clients[tenantID][client] = struct{}{}
}

// Unregister removes a client.
func (h *Hub) Unregister(tenantID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(tenantID, client)
}

// Subscribers reports how many clients follow tenantID.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

// Broadcast sends payload to every client of tenantID. Clients that fail to
// receive are closed and dropped.
func (h *Hub) Broadcast(tenantID string, payload []byte) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients[tenantID]))
	for c := range h.clients[tenantID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var dead []Subscriber
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			c.Close()
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range dead {
		h.removeLocked(tenantID, c)
	}
	h.mu.Unlock()
}

// ZoneTransitioned pushes the new zone status to the owning tenant's clients.
func (h *Hub) ZoneTransitioned(_ context.Context, t verify.Transition) {
	h.Publish(t.Zone, t.From)
}

// Publish broadcasts the current state of zone.
func (h *Hub) Publish(zone domain.DomainZone, previous domain.ZoneStatus) {
	payload, err := json.Marshal(Event{
		Type:        EventZoneStatus,
		Domain:      zone.Domain,
		Status:      string(zone.Status),
		Previous:    string(previous),
		Attempts:    zone.VerificationAttempts,
		ActivatedAt: zone.ActivatedAt,
		At:          h.now().UTC(),
	})
	if err != nil {
		h.logger.Warn("encode zone event", "domain", zone.Domain, "error", err)
		return
	}
	h.Broadcast(zone.TenantID, payload)
}

func (h *Hub) removeLocked(tenantID string, client Subscriber) {
	clients, ok := h.clients[tenantID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, tenantID)
	}
}
