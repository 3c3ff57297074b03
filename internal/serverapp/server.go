package serverapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"farmledger/internal/bundle"
	"farmledger/internal/catalog"
	"farmledger/internal/config"
	"farmledger/internal/httpmw"
	"farmledger/internal/identity"
	"farmledger/internal/saves"
	"farmledger/internal/telemetry"

	"go.uber.org/zap"
)

type Options struct {
	Config *config.Config
	Logger *zap.Logger
	// Store overrides the store selected by Config.
	Store saves.Store
	// Events overrides the in-memory telemetry log.
	Events telemetry.Repository
}

// App is the HTTP surface of the server and the store it owns.
type App struct {
	handler http.Handler
	store   saves.Store
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *App) Close() error {
	return a.store.Close()
}

// OpenStore opens the store selected by cfg.
func OpenStore(cfg *config.Config) (saves.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		return saves.OpenSQLite(cfg.SQLitePath())
	case config.StoreFile, "":
		return saves.NewFileStore(cfg.Server.DataDir)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	logger := opts.Logger

	store := opts.Store
	if store == nil {
		var err error
		store, err = OpenStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	events := opts.Events
	if events == nil {
		events = telemetry.NewMemoryRepository()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "farmledger",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("store not ready", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "save storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "farmledger",
			"store":   cfg.Store.Driver,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	ids := identity.NewService(store, identity.Options{
		UIDCookie:   cfg.Identity.UIDCookie,
		TokenCookie: cfg.Identity.TokenCookie,
		Domain:      cfg.Identity.Domain,
		Secure:      cfg.Identity.Secure,
		MaxAge:      cfg.Identity.MaxAge,
	}, logger.Named("identity"))
	mux.Handle("/api/identity", ids.RequireAPI(http.HandlerFunc(ids.Whoami)))

	savesHandler := saves.NewHandler(store, events, logger.Named("saves"))
	mux.Handle("/api/saves", ids.RequireAPI(http.HandlerFunc(savesHandler.Root)))
	mux.Handle("/api/saves/", ids.RequireAPI(http.HandlerFunc(savesHandler.Sub)))

	bundlesHandler := saves.NewBundlesHandler(store, catalog.Default(), cfg.Bundles.CompletionThreshold, events, logger.Named("bundles"))
	mux.Handle("/api/bundles", ids.RequireAPI(http.HandlerFunc(bundlesHandler.List)))

	schema := bundle.Schema()
	mux.HandleFunc("/api/schema/bundles", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, schema)
	})

	mux.HandleFunc("/api/telemetry/stats", telemetry.NewHandler(events).Stats)

	mux.Handle("/api/config", ids.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})))

	return &App{
		handler: httpmw.Chain(
			mux,
			httpmw.WithAccessLog(logger.Named("http")),
			httpmw.WithRequestID,
			httpmw.WithRecover(logger),
		),
		store: store,
	}, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NewLogger builds the production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = lvl
	return zc.Build()
}
