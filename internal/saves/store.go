// Package saves is the persistence gateway for player records.
package saves

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farmledger/internal/identity"
	"farmledger/internal/record"
)

var (
	ErrNotFound  = errors.New("player not found")
	ErrMissingID = errors.New(`record is missing "_id"`)
)

// IDKey is the record key holding the player id.
const IDKey = "_id"

// Sections are the known top-level record sections. Bundles is the only array
// section; the rest default to empty objects.
var Sections = []string{
	"general",
	"bundles",
	"fishing",
	"cooking",
	"crafting",
	"shipping",
	"museum",
	"social",
	"monsters",
	"walnuts",
	"notes",
	"scraps",
	"perfection",
	"powers",
}

// Store keeps player records per identity and the registered users that own
// them.
type Store interface {
	List(ctx context.Context, uid string) ([]record.Node, error)
	Get(ctx context.Context, uid, playerID string) (record.Node, error)
	Put(ctx context.Context, uid string, players []record.Node) error
	Patch(ctx context.Context, uid, playerID string, patch record.Node) (record.Node, error)
	Delete(ctx context.Context, uid, playerID string) error
	DeleteAll(ctx context.Context, uid string) error

	GetUser(ctx context.Context, id string) (identity.User, bool, error)
	PutUser(ctx context.Context, u identity.User) error
	DeleteUser(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// NewRecord fills every missing section of raw with its empty default.
func NewRecord(raw record.Node) (record.Node, error) {
	id := strings.TrimSpace(raw.Text(IDKey))
	if id == "" {
		return nil, ErrMissingID
	}
	out := make(record.Node, len(raw)+len(Sections))
	for k, v := range raw {
		out[k] = v
	}
	out[IDKey] = record.String(id)
	for _, s := range Sections {
		if v, ok := out[s]; ok {
			if l, isLeaf := v.(record.Leaf); !isLeaf || !l.IsNull() {
				continue
			}
		}
		if s == "bundles" {
			out[s] = record.Sequence{}
			continue
		}
		out[s] = record.Node{}
	}
	return out, nil
}

// applyPatch merges patch into current and pins the player id.
func applyPatch(current, patch record.Node, playerID string) (record.Node, error) {
	merged, ok := record.MergeDeep(current, patch).(record.Node)
	if !ok {
		return nil, fmt.Errorf("merge produced a non-object record")
	}
	merged[IDKey] = record.String(playerID)
	return merged, nil
}
