package saves

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"farmledger/internal/identity"
	"farmledger/internal/record"
	"farmledger/internal/telemetry"

	"go.uber.org/zap"
)

const maxBodyBytes = 8 << 20

type Handler struct {
	store  Store
	events telemetry.Repository
	logger *zap.Logger
}

func NewHandler(store Store, events telemetry.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, events: events, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func (h *Handler) record(t telemetry.EventType, meta telemetry.EventMetadata) {
	if h.events == nil {
		return
	}
	if err := h.events.RecordEvent(t, meta); err != nil {
		h.logger.Warn("record telemetry event", zap.String("type", string(t)), zap.Error(err))
	}
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok || strings.TrimSpace(id.UserID) == "" {
		writeErr(w, http.StatusUnauthorized, identity.ErrUnauthenticated.Error())
		return "", false
	}
	return id.UserID, true
}

// Root serves /api/saves.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.upload(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Sub serves /api/saves/{id}.
func (h *Handler) Sub(w http.ResponseWriter, r *http.Request) {
	// Ids may contain an escaped "/", so split on the raw path.
	seg := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), "/api/saves/"), "/")
	playerID, err := url.PathUnescape(seg)
	if err != nil || seg == "" || strings.Contains(seg, "/") {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPatch {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.patch(w, r, playerID)
}

// GET /api/saves
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	players, err := h.store.List(r.Context(), uid)
	if err != nil {
		h.logger.Error("list saves", zap.String("uid", uid), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "could not list players")
		return
	}
	writeJSON(w, http.StatusOK, players)
}

// POST /api/saves
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "could not read body")
		return
	}
	v, err := record.Decode(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	seq, ok := v.(record.Sequence)
	if !ok {
		writeErr(w, http.StatusBadRequest, "expected an array of players")
		return
	}

	players := make([]record.Node, 0, len(seq))
	for _, item := range seq {
		raw, ok := item.(record.Node)
		if !ok {
			writeErr(w, http.StatusBadRequest, "expected an array of players")
			return
		}
		p, err := NewRecord(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		players = append(players, p)
	}

	if err := h.store.Put(r.Context(), uid, players); err != nil {
		h.logger.Error("upload saves", zap.String("uid", uid), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "could not save players")
		return
	}
	h.logger.Info("players uploaded", zap.String("uid", uid), zap.Int("count", len(players)))
	h.record(telemetry.EventPlayersUploaded, telemetry.EventMetadata{"uid": uid, "count": len(players)})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(players)})
}

// PATCH /api/saves/{id}
func (h *Handler) patch(w http.ResponseWriter, r *http.Request, playerID string) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "could not read body")
		return
	}
	patch, err := record.DecodeNode(body)
	if err != nil {
		h.record(telemetry.EventPatchFailed, telemetry.EventMetadata{"uid": uid, "player": playerID, "reason": "invalid_json"})
		writeErr(w, http.StatusBadRequest, "invalid patch")
		return
	}

	merged, err := h.store.Patch(r.Context(), uid, playerID, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("patch save", zap.String("uid", uid), zap.String("player", playerID), zap.Error(err))
		h.record(telemetry.EventPatchFailed, telemetry.EventMetadata{"uid": uid, "player": playerID, "reason": "storage"})
		writeErr(w, http.StatusInternalServerError, "could not patch player")
		return
	}

	h.logger.Info("player patched",
		zap.String("uid", uid),
		zap.String("player", playerID),
		zap.Strings("sections", patch.Keys()),
	)
	h.record(telemetry.EventPlayerPatched, telemetry.EventMetadata{"uid": uid, "player": playerID, "sections": patch.Keys()})
	writeJSON(w, http.StatusOK, merged)
}

// DELETE /api/saves
//
// No body clears every player. {"type":"player","_id":X} removes one player.
// Any other typed body removes the players and the account.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "could not read body")
		return
	}

	ctx := r.Context()
	if len(bytes.TrimSpace(body)) == 0 {
		if err := h.store.DeleteAll(ctx, uid); err != nil {
			h.logger.Error("clear saves", zap.String("uid", uid), zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "could not delete players")
			return
		}
		h.logger.Info("players cleared", zap.String("uid", uid))
		h.record(telemetry.EventPlayersCleared, telemetry.EventMetadata{"uid": uid})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// A literal null leaves in nil; only an object selects a delete mode.
	var in *struct {
		Type string `json:"type"`
		ID   string `json:"_id"`
	}
	if err := json.Unmarshal(body, &in); err != nil || in == nil {
		writeErr(w, http.StatusBadRequest, "delete body must be a json object")
		return
	}

	if in.Type == "player" {
		playerID := strings.TrimSpace(in.ID)
		if playerID == "" {
			writeErr(w, http.StatusBadRequest, ErrMissingID.Error())
			return
		}
		if err := h.store.Delete(ctx, uid, playerID); err != nil {
			h.logger.Error("delete save", zap.String("uid", uid), zap.String("player", playerID), zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "could not delete player")
			return
		}
		h.logger.Info("player deleted", zap.String("uid", uid), zap.String("player", playerID))
		h.record(telemetry.EventPlayerDeleted, telemetry.EventMetadata{"uid": uid, "player": playerID})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.store.DeleteUser(ctx, uid); err != nil {
		h.logger.Error("delete account", zap.String("uid", uid), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "could not delete account")
		return
	}
	h.logger.Info("account deleted", zap.String("uid", uid))
	h.record(telemetry.EventAccountDeleted, telemetry.EventMetadata{"uid": uid})
	w.WriteHeader(http.StatusNoContent)
}
