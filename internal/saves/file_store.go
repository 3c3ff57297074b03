package saves

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"farmledger/internal/identity"
	"farmledger/internal/record"
)

type fileUser struct {
	Account *identity.User             `json:"account,omitempty"`
	Players map[string]json.RawMessage `json:"players"`
}

type fileState struct {
	Users map[string]fileUser `json:"users"`
}

type userState struct {
	account *identity.User
	players map[string]record.Node
}

// FileStore keeps every record in a single JSON file, rewritten on each change.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	users map[string]*userState
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{
		path:  filepath.Join(dataDir, "saves.json"),
		users: map[string]*userState{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var loaded fileState
	if err := json.Unmarshal(b, &loaded); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	for uid, fu := range loaded.Users {
		us := &userState{account: fu.Account, players: map[string]record.Node{}}
		for id, raw := range fu.Players {
			n, err := record.DecodeNode(raw)
			if err != nil {
				return fmt.Errorf("decode player %s/%s: %w", uid, id, err)
			}
			us.players[id] = n
		}
		s.users[uid] = us
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	out := fileState{Users: make(map[string]fileUser, len(s.users))}
	for uid, us := range s.users {
		fu := fileUser{Account: us.account, Players: make(map[string]json.RawMessage, len(us.players))}
		for id, n := range us.players {
			b, err := json.Marshal(n)
			if err != nil {
				return err
			}
			fu.Players[id] = b
		}
		out.Users[uid] = fu
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) userLocked(uid string) *userState {
	us, ok := s.users[uid]
	if !ok {
		us = &userState{players: map[string]record.Node{}}
		s.users[uid] = us
	}
	return us
}

func (s *FileStore) List(ctx context.Context, uid string) ([]record.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	us, ok := s.users[uid]
	if !ok {
		return []record.Node{}, nil
	}
	ids := make([]string, 0, len(us.players))
	for id := range us.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]record.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, record.Clone(us.players[id]).(record.Node))
	}
	return out, nil
}

func (s *FileStore) Get(ctx context.Context, uid, playerID string) (record.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	us, ok := s.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	n, ok := us.players[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(n).(record.Node), nil
}

// mutateLocked applies fn to uid's state and persists it. If fn or the write
// fails, the in-memory state is rolled back so it never runs ahead of the file.
func (s *FileStore) mutateLocked(uid string, fn func(us *userState) error) error {
	prev, existed := s.users[uid]
	var snap userState
	if existed {
		snap = userState{account: prev.account, players: maps.Clone(prev.players)}
	}

	err := fn(s.userLocked(uid))
	if err == nil {
		if err = s.saveLocked(); err == nil {
			return nil
		}
	}
	if existed {
		*prev = snap
		s.users[uid] = prev
	} else {
		delete(s.users, uid)
	}
	return err
}

func (s *FileStore) Put(ctx context.Context, uid string, players []record.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutateLocked(uid, func(us *userState) error {
		for _, p := range players {
			id := strings.TrimSpace(p.Text(IDKey))
			if id == "" {
				return ErrMissingID
			}
			us.players[id] = record.Clone(p).(record.Node)
		}
		return nil
	})
}

func (s *FileStore) Patch(ctx context.Context, uid, playerID string, patch record.Node) (record.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	us, ok := s.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	current, ok := us.players[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	merged, err := applyPatch(current, record.Clone(patch).(record.Node), playerID)
	if err != nil {
		return nil, err
	}
	err = s.mutateLocked(uid, func(us *userState) error {
		us.players[playerID] = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record.Clone(merged).(record.Node), nil
}

func (s *FileStore) Delete(ctx context.Context, uid, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[uid]; !ok {
		return nil
	}
	return s.mutateLocked(uid, func(us *userState) error {
		delete(us.players, playerID)
		return nil
	})
}

func (s *FileStore) DeleteAll(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[uid]; !ok {
		return nil
	}
	return s.mutateLocked(uid, func(us *userState) error {
		us.players = map[string]record.Node{}
		return nil
	})
}

func (s *FileStore) GetUser(ctx context.Context, id string) (identity.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	us, ok := s.users[id]
	if !ok || us.account == nil {
		return identity.User{}, false, nil
	}
	return *us.account, true, nil
}

func (s *FileStore) PutUser(ctx context.Context, u identity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := u
	return s.mutateLocked(u.ID, func(us *userState) error {
		us.account = &acct
		return nil
	})
}

func (s *FileStore) DeleteUser(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return nil
	}
	return s.mutateLocked(id, func(*userState) error {
		delete(s.users, id)
		return nil
	})
}

func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *FileStore) Close() error { return nil }
