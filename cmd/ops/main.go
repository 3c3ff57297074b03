package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"farmledger/internal/bundle"
	"farmledger/internal/catalog"
	"farmledger/internal/client"
	"farmledger/internal/config"
	"farmledger/internal/identity"
	"farmledger/internal/ops"
	"farmledger/internal/serverapp"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type opsEnv struct {
	configPath string
	logLevel   string
	out        io.Writer
	now        func() time.Time
}

func (e *opsEnv) config() (*config.Config, error) {
	return config.Load(e.configPath)
}

func (e *opsEnv) logger(cfg *config.Config) (*zap.Logger, error) {
	level := e.logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	return serverapp.NewLogger(level)
}

func (e *opsEnv) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(out io.Writer) *cobra.Command {
	env := &opsEnv{out: out, now: time.Now}

	root := &cobra.Command{
		Use:           "farmledger-ops",
		Short:         "Operator tasks for a farmledger data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&env.configPath, "config", "farmledger.yml", "path to config file")
	root.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newBackupCmd(env),
		newRestoreCmd(env),
		newDrillCmd(env),
		newBundlesCmd(env),
		newSchemaCmd(env),
		newRegisterCmd(env),
		newStatusCmd(env),
	)
	return root
}

func newBackupCmd(env *opsEnv) *cobra.Command {
	var dataDir, out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory into a .tar.gz",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.config()
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = cfg.Server.DataDir
			}
			if out == "" {
				ts := env.now().UTC().Format("20060102T150405Z")
				out = filepath.Join("backups", "farmledger-"+ts+".tar.gz")
			}
			m, err := ops.Backup(dataDir, out)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			return env.print(m)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "path to data directory (defaults to server.data_dir)")
	cmd.Flags().StringVar(&out, "out", "", "output archive path (.tar.gz)")
	return cmd
}

func newRestoreCmd(env *opsEnv) *cobra.Command {
	var archive, target string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Unpack a backup archive into a directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(archive) == "" {
				return errors.New("--archive is required")
			}
			if err := ops.Restore(archive, target); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			return env.print(map[string]string{"restored_to": target})
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "input backup archive (.tar.gz)")
	cmd.Flags().StringVar(&target, "target-dir", "data-restored", "restore target directory")
	return cmd
}

func newDrillCmd(env *opsEnv) *cobra.Command {
	var dataDir, workDir string
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Back up, restore and compare the data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.config()
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = cfg.Server.DataDir
			}
			report, err := ops.Drill(dataDir, workDir, env.now())
			if err != nil {
				return fmt.Errorf("drill failed: %w", err)
			}
			return env.print(report)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "path to data directory (defaults to server.data_dir)")
	cmd.Flags().StringVar(&workDir, "work-dir", os.TempDir(), "temporary workspace for drill artifacts")
	return cmd
}

func newBundlesCmd(env *opsEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "bundles",
		Short: "Print a freshly resolved bundle set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.config()
			if err != nil {
				return err
			}
			logger, err := env.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a := bundle.NewAssembler(catalog.Default().CommunityCenter(), logger.Named("bundles"))
			bundles := a.ActiveBundles(nil)
			logger.Info("bundles_resolved", zap.Int("count", len(bundles)))
			return env.print(bundles)
		},
	}
}

func newSchemaCmd(env *opsEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the bundles section",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.print(bundle.Schema())
		},
	}
}

func newRegisterCmd(env *opsEnv) *cobra.Command {
	var name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a registered user and print its token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.config()
			if err != nil {
				return err
			}
			logger, err := env.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := serverapp.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			u := identity.User{
				ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
				DisplayName:  strings.TrimSpace(name),
				CookieSecret: uuid.NewString(),
				CreatedAt:    env.now().UTC(),
			}
			if err := store.PutUser(context.Background(), u); err != nil {
				return fmt.Errorf("register user: %w", err)
			}

			ids := identity.NewService(store, identity.Options{TokenCookie: cfg.Identity.TokenCookie}, logger.Named("identity"))
			token, exp, err := ids.IssueToken(u, ttl)
			if err != nil {
				return err
			}
			logger.Info("user_registered", zap.String("uid", u.ID))
			return env.print(map[string]any{
				"uid":        u.ID,
				"token":      token,
				"expires_at": exp.Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func newStatusCmd(env *opsEnv) *cobra.Command {
	var server, uid, token, player, bundleName string
	var item int
	var done bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Mark one bundle item of a player through the save API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(uid) == "" || strings.TrimSpace(bundleName) == "" {
				return errors.New("--uid and --bundle are required")
			}
			cfg, err := env.config()
			if err != nil {
				return err
			}
			logger, err := env.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts, err := cfg.Client.SessionOptions()
			if err != nil {
				return err
			}
			httpClient, err := identityClient(server, cfg.Identity, uid, token)
			if err != nil {
				return err
			}
			gw, err := client.New(server, httpClient, logger.Named("client"))
			if err != nil {
				return err
			}
			a := bundle.NewAssembler(catalog.Default().CommunityCenter(), logger.Named("bundles"))
			s := client.NewSession(gw, a, opts, logger.Named("session"))

			ctx := cmd.Context()
			if err := s.Refresh(ctx); err != nil {
				return fmt.Errorf("load players: %w", err)
			}
			if player != "" {
				if err := s.SetActivePlayer(player); err != nil {
					return err
				}
			}
			rec, err := s.SetBundleStatus(ctx, bundleName, item, done)
			if err != nil {
				return fmt.Errorf("set status (rollback %s): %w", opts.Rollback, err)
			}
			bundles, err := bundle.FromRecord(rec)
			if err != nil {
				return err
			}
			i := bundle.IndexOf(bundles, bundleName)
			return env.print(map[string]any{
				"player":       rec.Text("_id"),
				"bundle":       bundleName,
				"bundleStatus": bundles[i].BundleStatus,
				"completed":    bundles[i].Completed(),
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:42069", "save API base url")
	cmd.Flags().StringVar(&uid, "uid", "", "caller uid cookie value")
	cmd.Flags().StringVar(&token, "token", "", "token for a registered uid")
	cmd.Flags().StringVar(&player, "player", "", "player id (defaults to the first player)")
	cmd.Flags().StringVar(&bundleName, "bundle", "", "bundle name")
	cmd.Flags().IntVar(&item, "item", 0, "item index within the bundle")
	cmd.Flags().BoolVar(&done, "done", true, "mark the item done (false clears it)")
	return cmd
}

// identityClient returns an HTTP client whose jar already carries the caller's
// identity cookies for server.
func identityClient(server string, ic config.IdentityConfig, uid, token string) (*http.Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	cookies := []*http.Cookie{{Name: ic.UIDCookie, Value: uid, Path: "/"}}
	if token != "" {
		cookies = append(cookies, &http.Cookie{Name: ic.TokenCookie, Value: token, Path: "/"})
	}
	jar.SetCookies(u, cookies)
	return &http.Client{Jar: jar}, nil
}
