package telemetry

import (
	"encoding/json"
	"time"
)

type Stats struct {
	Period          string            `json:"period"`
	EventCounts     map[EventType]int `json:"event_counts"`
	PlayersUploaded int               `json:"players_uploaded"`
	Patches         int               `json:"patches"`
	FailedPatches   int               `json:"failed_patches"`
	PatchedSections map[string]int    `json:"patched_sections"`
	Deletions       int               `json:"deletions"`
}

// CalculateStats aggregates save activity from events.
func CalculateStats(events []Event, since time.Time) (Stats, error) {
	stats := Stats{
		Period:          since.Format("2006-01-02"),
		EventCounts:     make(map[EventType]int),
		PatchedSections: make(map[string]int),
	}

	for _, event := range events {
		stats.EventCounts[event.Type]++

		var metadata EventMetadata
		if err := json.Unmarshal([]byte(event.Metadata), &metadata); err != nil {
			continue
		}

		switch event.Type {
		case EventPlayersUploaded:
			if n, ok := metadata["count"].(float64); ok {
				stats.PlayersUploaded += int(n)
			}
		case EventPlayerPatched:
			stats.Patches++
			if sections, ok := metadata["sections"].([]interface{}); ok {
				for _, s := range sections {
					if name, ok := s.(string); ok {
						stats.PatchedSections[name]++
					}
				}
			}
		case EventPatchFailed:
			stats.FailedPatches++
		case EventPlayerDeleted, EventPlayersCleared, EventAccountDeleted:
			stats.Deletions++
		}
	}

	return stats, nil
}
