package replay

import (
	"encoding/json"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// BootstrapIfEmpty returns events unchanged unless events is empty, in
// which case it synthesizes a clear event followed by a
// command{command:"pin"} event naming systemPromptPath, per spec.md §4.6's
// fresh-install bootstrap: a brand-new root agent replays identically to
// one restored from a store that happens to hold exactly these two
// records, so callers never need a separate "first run" code path.
func BootstrapIfEmpty(events []models.Event, sessionID, agentID, systemPromptPath string) []models.Event {
	if len(events) > 0 {
		return events
	}
	now := time.Now()
	pinArgs, _ := json.Marshal(models.DataCommand{Command: "pin", Args: []string{systemPromptPath}})
	return []models.Event{
		{SessionID: sessionID, AgentID: agentID, Kind: models.EventClear, CreatedAt: now},
		{SessionID: sessionID, AgentID: agentID, Kind: models.EventCommand, Data: pinArgs, CreatedAt: now.Add(time.Nanosecond)},
	}
}
