package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"farmledger/internal/bundle"
	"farmledger/internal/record"

	"go.uber.org/zap"
)

var ErrNoActivePlayer = errors.New("no active player")

// RollbackPolicy decides what happens to an optimistic edit the gateway rejected.
type RollbackPolicy string

const (
	// RollbackRevert restores the record as it was before the failed edit,
	// unless another edit has been applied since.
	RollbackRevert RollbackPolicy = "revert"
	// RollbackKeep leaves the optimistic edit in place.
	RollbackKeep RollbackPolicy = "keep"
)

func ParseRollbackPolicy(s string) (RollbackPolicy, error) {
	switch RollbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RollbackRevert:
		return RollbackRevert, nil
	case RollbackKeep:
		return RollbackKeep, nil
	}
	return "", fmt.Errorf("unknown rollback policy %q", s)
}

// Gateway is the subset of the save API a Session needs.
type Gateway interface {
	List(ctx context.Context) ([]record.Node, error)
	Upload(ctx context.Context, players []record.Node) error
	Patch(ctx context.Context, playerID string, patch record.Node) (record.Node, error)
}

type SessionOptions struct {
	Rollback RollbackPolicy
}

// Session holds the caller's players and which one is active. Edits are applied
// locally before the gateway acknowledges them.
type Session struct {
	gw        Gateway
	assembler *bundle.Assembler
	rollback  RollbackPolicy
	logger    *zap.Logger

	mu       sync.Mutex
	players  []record.Node
	active   string
	versions map[string]uint64
}

func NewSession(gw Gateway, assembler *bundle.Assembler, opts SessionOptions, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Rollback == "" {
		opts.Rollback = RollbackRevert
	}
	return &Session{
		gw:        gw,
		assembler: assembler,
		rollback:  opts.Rollback,
		logger:    logger,
		versions:  map[string]uint64{},
	}
}

func playerID(n record.Node) string { return n.Text("_id") }

func (s *Session) indexLocked(id string) int {
	for i, p := range s.players {
		if playerID(p) == id {
			return i
		}
	}
	return -1
}

// Refresh reloads every player from the gateway. The active player is kept if
// it still exists, otherwise the first player becomes active.
func (s *Session) Refresh(ctx context.Context) error {
	players, err := s.gw.List(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = players
	for _, p := range players {
		s.versions[playerID(p)]++
	}
	if s.indexLocked(s.active) < 0 {
		s.active = ""
		if len(players) > 0 {
			s.active = playerID(players[0])
		}
	}
	return nil
}

// UploadPlayers stores players on the gateway and makes the first one active.
func (s *Session) UploadPlayers(ctx context.Context, players []record.Node) error {
	if err := s.gw.Upload(ctx, players); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = make([]record.Node, len(players))
	copy(s.players, players)
	for _, p := range players {
		s.versions[playerID(p)]++
	}
	s.active = ""
	if len(players) > 0 {
		s.active = playerID(players[0])
	}
	return nil
}

func (s *Session) Players() []record.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Node, len(s.players))
	copy(out, s.players)
	return out
}

// SetActivePlayer selects a loaded player. An empty id clears the selection.
func (s *Session) SetActivePlayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %q is not loaded", ErrNoActivePlayer, id)
	}
	s.active = id
	return nil
}

// ActivePlayer returns the active player's current local record.
func (s *Session) ActivePlayer() (record.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(s.active)
	if i < 0 {
		return nil, false
	}
	return s.players[i], true
}

// PatchPlayer normalizes patch against the active record, applies it locally
// and submits it. On failure the rollback policy decides whether the local edit
// survives; the error is returned either way. The returned record is the local
// state after the call.
func (s *Session) PatchPlayer(ctx context.Context, patch record.Patch) (record.Node, error) {
	s.mu.Lock()
	i := s.indexLocked(s.active)
	if i < 0 {
		s.mu.Unlock()
		return nil, ErrNoActivePlayer
	}
	id := s.active
	before := s.players[i]

	normalized, ok := record.Normalize(patch, before).(record.Node)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: player patch must be an object", record.ErrInvalidPatch)
	}
	merged := record.MergeDeep(before, normalized).(record.Node)
	s.players[i] = merged
	s.versions[id]++
	version := s.versions[id]
	s.mu.Unlock()

	if _, err := s.gw.Patch(ctx, id, normalized); err != nil {
		s.logger.Warn("patch rejected", zap.String("player", id), zap.String("rollback", string(s.rollback)), zap.Error(err))
		return s.rejected(id, version, before), fmt.Errorf("patch player %s: %w", id, err)
	}
	return merged, nil
}

func (s *Session) rejected(id string, version uint64, before record.Node) record.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	if s.rollback == RollbackRevert && s.versions[id] == version {
		s.players[i] = before
		s.versions[id]++
	}
	return s.players[i]
}

// Bundles returns the active player's bundle list with alternates attached, or
// the fresh catalog resolution when the player has no saved bundles.
func (s *Session) Bundles() ([]bundle.BundleWithStatus, error) {
	saved, err := s.savedBundles()
	if err != nil {
		return nil, err
	}
	return s.assembler.ActiveBundles(saved), nil
}

func (s *Session) savedBundles() ([]bundle.BundleWithStatus, error) {
	p, ok := s.ActivePlayer()
	if !ok {
		return nil, ErrNoActivePlayer
	}
	return bundle.FromRecord(p)
}

// SetBundleStatus marks one item of a saved bundle.
func (s *Session) SetBundleStatus(ctx context.Context, bundleName string, itemIndex int, done bool) (record.Node, error) {
	saved, err := s.savedBundles()
	if err != nil {
		return nil, err
	}
	patch, err := bundle.StatusPatch(saved, bundleName, itemIndex, done)
	if err != nil {
		return nil, err
	}
	return s.PatchPlayer(ctx, patch)
}

// SwapBundle replaces old with next in the active bundle list. When the player
// has saved bundles the swap is persisted; otherwise only the returned list
// reflects it.
func (s *Session) SwapBundle(ctx context.Context, next bundle.Bundle, old bundle.BundleWithStatus) ([]bundle.BundleWithStatus, error) {
	saved, err := s.savedBundles()
	if err != nil {
		return nil, err
	}
	if len(saved) == 0 {
		return s.assembler.SwapBundle(s.assembler.ActiveBundles(nil), next, old)
	}

	patch, err := bundle.SwapPatch(saved, next, old)
	if err != nil {
		return nil, err
	}
	rec, err := s.PatchPlayer(ctx, patch)
	if err != nil {
		if rec == nil {
			return nil, err
		}
		bundles, decodeErr := bundle.FromRecord(rec)
		if decodeErr != nil {
			return nil, errors.Join(err, decodeErr)
		}
		return s.assembler.ActiveBundles(bundles), err
	}
	bundles, err := bundle.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	return s.assembler.ActiveBundles(bundles), nil
}
