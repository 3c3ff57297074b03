package telemetry

import "time"

type EventType string

const (
	EventPlayersUploaded EventType = "players_uploaded"
	EventPlayerPatched   EventType = "player_patched"
	EventPlayerDeleted   EventType = "player_deleted"
	EventPlayersCleared  EventType = "players_cleared"
	EventAccountDeleted  EventType = "account_deleted"
	EventBundlesViewed   EventType = "bundles_viewed"
	EventPatchFailed     EventType = "patch_failed"
)

type Event struct {
	ID        int       `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata"`
}

type EventMetadata map[string]interface{}
