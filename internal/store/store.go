// Package store implements the Event Store spec.md §2 names as a
// consumed interface: an append-only log of models.Event rows, ordered by
// created_at, that the replay engine and the agent state machine depend on
// without knowing which backend holds it.
package store

import (
	"context"
	"sort"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// EventStore appends events and reads them back in creation order, per
// spec.md §4.6's requirement that replay consumes events "ordered by
// created_at ascending."
type EventStore interface {
	// AppendEvent persists ev, assigning ID and CreatedAt if unset, and
	// returns the stored copy.
	AppendEvent(ctx context.Context, ev models.Event) (models.Event, error)

	// EventsForSession returns every event for sessionID, oldest first.
	EventsForSession(ctx context.Context, sessionID string) ([]models.Event, error)

	// EventsForAgent returns every event for a single agent within a
	// session, oldest first — the slice the replay engine rebuilds one
	// agent from.
	EventsForAgent(ctx context.Context, sessionID, agentID string) ([]models.Event, error)

	// CreateAgent registers a new agent row (root or forked child). It is
	// an error to call this twice for the same AgentID.
	CreateAgent(ctx context.Context, rec models.AgentRecord) error

	// ListAgents returns every agent row for sessionID ordered by
	// CreatedAt ascending, the order spec.md §4.6 requires replay to
	// restore in so a parent's state exists before its children.
	ListAgents(ctx context.Context, sessionID string) ([]models.AgentRecord, error)

	// MarkAgentDead flips an agent's persisted Dead flag to true. Per
	// spec.md §3 Lifecycle, a dead agent's UUID is never reused and it is
	// excluded from future restores.
	MarkAgentDead(ctx context.Context, sessionID, agentID string) error

	Close() error
}

// sortAgentsByCreatedAt orders recs ascending by CreatedAt in place, the
// shared ordering every EventStore.ListAgents implementation returns.
func sortAgentsByCreatedAt(recs []models.AgentRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
