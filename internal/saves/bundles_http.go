package saves

import (
	"errors"
	"net/http"
	"strings"

	"farmledger/internal/bundle"
	"farmledger/internal/catalog"
	"farmledger/internal/identity"
	"farmledger/internal/telemetry"

	"go.uber.org/zap"
)

// ItemView is catalog metadata for an item shown in a bundle.
type ItemView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IconURL     string `json:"iconURL"`
}

type BundleView struct {
	bundle.BundleWithStatus
	Completed  bool            `json:"completed"`
	Alternates []bundle.Bundle `json:"alternates,omitempty"`
}

type BundlesResponse struct {
	Rooms    []bundle.RoomName   `json:"rooms"`
	Bundles  []BundleView        `json:"bundles"`
	Items    map[string]ItemView `json:"items"`
	Progress bundle.Progress     `json:"progress"`
	// Achievement is awarded once Progress.Achieved is true.
	Achievement string `json:"achievement"`
}

// CommunityCenterAchievement is the achievement for restoring the community center.
const CommunityCenterAchievement = "Local Legend"

type BundlesHandler struct {
	store     Store
	assembler *bundle.Assembler
	catalog   *catalog.Catalog
	threshold int
	events    telemetry.Repository
	logger    *zap.Logger
}

func NewBundlesHandler(store Store, cat *catalog.Catalog, threshold int, events telemetry.Repository, logger *zap.Logger) *BundlesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 31
	}
	return &BundlesHandler{
		store:     store,
		assembler: bundle.NewAssembler(cat.CommunityCenter(), logger),
		catalog:   cat,
		threshold: threshold,
		events:    events,
		logger:    logger,
	}
}

// GET /api/bundles?player=<id>
func (h *BundlesHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, identity.ErrUnauthenticated.Error())
		return
	}

	var saved []bundle.BundleWithStatus
	playerID := strings.TrimSpace(r.URL.Query().Get("player"))
	if playerID != "" {
		rec, err := h.store.Get(r.Context(), id.UserID, playerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeErr(w, http.StatusNotFound, err.Error())
				return
			}
			h.logger.Error("load player for bundles", zap.String("uid", id.UserID), zap.String("player", playerID), zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "could not load player")
			return
		}
		saved, err = bundle.FromRecord(rec)
		if err != nil {
			h.logger.Warn("player has unreadable bundles", zap.String("player", playerID), zap.Error(err))
			writeErr(w, http.StatusUnprocessableEntity, "player bundles are malformed")
			return
		}
	}

	writeJSON(w, http.StatusOK, h.view(h.assembler.ActiveBundles(saved)))
	if h.events != nil {
		_ = h.events.RecordEvent(telemetry.EventBundlesViewed, telemetry.EventMetadata{"uid": id.UserID, "player": playerID})
	}
}

func (h *BundlesHandler) view(active []bundle.BundleWithStatus) BundlesResponse {
	resp := BundlesResponse{
		Rooms:    bundle.Rooms(),
		Bundles:  make([]BundleView, 0, len(active)),
		Items:    map[string]ItemView{},
		Progress: bundle.Summarize(active, h.threshold),
	}
	if resp.Progress.Achieved {
		resp.Achievement = CommunityCenterAchievement
	}
	for _, b := range active {
		v := BundleView{
			BundleWithStatus: b,
			Completed:        b.Completed(),
			Alternates:       bundle.AlternateOptions(b, active),
		}
		resp.Bundles = append(resp.Bundles, v)

		h.addItems(resp.Items, b.Bundle)
		for _, alt := range v.Alternates {
			h.addItems(resp.Items, alt)
		}
	}
	return resp
}

func (h *BundlesHandler) addItems(into map[string]ItemView, b bundle.Bundle) {
	add := func(id string) {
		if _, seen := into[id]; seen {
			return
		}
		it, ok := h.catalog.Item(id)
		if !ok {
			return
		}
		into[id] = ItemView{Name: it.Name, Description: it.Description, IconURL: catalog.IconURL(id)}
	}
	for _, it := range b.Items {
		add(it.ItemID)
		for _, opt := range it.Options {
			add(opt.ItemID)
		}
	}
}
