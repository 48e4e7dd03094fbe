package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mea/internal/catalog"
	"github.com/pavelanni/mea/internal/draftcache"
	"github.com/pavelanni/mea/internal/handler"
	appI18n "github.com/pavelanni/mea/internal/i18n"
	"github.com/pavelanni/mea/internal/metrics"
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/store"
	"github.com/pavelanni/mea/internal/tui"
	"github.com/pavelanni/mea/internal/wizard"
)

const settingCatalogDigest = "catalog.sha256"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mea",
		Short: "School monitoring and evaluation report forms",
	}

	serve := serveCmd()
	root.AddCommand(serve, fillCmd(), exportCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mea --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "mea.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addFormFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("catalog", "", "Form catalog YAML (empty = built-in)")
	f.StringP("lang", "l", "en", "Default UI language (en, fil)")
	f.String("draft-backend", "sqlite", "Where drafts are kept (sqlite, redis)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis draft backend")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("draft-ttl", draftcache.DefaultTTL, "Drop drafts untouched for this long")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP form server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addFormFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /mea)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("session-idle", handler.DefaultSessionIdle, "Forget in-memory forms unused for this long")
	f.String("admin-password", "", "Initial admin password (or set MEA_ADMIN_PASSWORD)")
	return cmd
}

func fillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Fill in a report from the terminal",
		RunE:  runFill,
	}
	addCommonFlags(cmd)
	addFormFlags(cmd)
	f := cmd.Flags()
	f.String("level", "", "Respondent level (kindergarten, elementary, jhs, shs, als, sped, school_head)")
	f.StringP("user", "u", "", "Username the report is submitted as")
	_ = cmd.MarkFlagRequired("level")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a school's latest reports as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("catalog", "", "Form catalog YAML (empty = built-in)")
	f.String("school", "", "School name (required)")
	f.String("period", "", "Reporting period, e.g. Q1 (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("school")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		RunE:  runUserAdd,
	}
	addCommonFlags(add)
	f := add.Flags()
	f.String("username", "", "Login name (required)")
	f.String("display-name", "", "Name shown on exports")
	f.String("role", string(model.UserRoleRespondent), "Role (respondent, district, admin)")
	f.String("password", "", "Password (or set MEA_PASSWORD)")
	_ = add.MarkFlagRequired("username")
	cmd.AddCommand(add)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MEA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mea")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mea")
	v.AddConfigPath("/etc/mea")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openDrafts returns the configured draft backend. The returned close
// function is a no-op for the sqlite backend.
func openDrafts(ctx context.Context, v *viper.Viper, db *store.Store) (wizard.DraftStore, func(), error) {
	switch backend := strings.ToLower(v.GetString("draft-backend")); backend {
	case "", "sqlite":
		return db, func() {}, nil
	case "redis":
		c, err := draftcache.New(ctx, draftcache.Options{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			TTL:      v.GetDuration("draft-ttl"),
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown draft backend %q", backend)
	}
}

// pingBackends checks the database and, when drafts live elsewhere, the
// draft backend.
func pingBackends(ctx context.Context, db *store.Store, drafts wizard.DraftStore) error {
	if err := db.Ping(ctx); err != nil {
		return err
	}
	if p, ok := drafts.(interface{ Ping(context.Context) error }); ok && drafts != wizard.DraftStore(db) {
		return p.Ping(ctx)
	}
	return nil
}

// recordCatalog remembers which catalog the stored drafts were written
// against and warns when it changed.
func recordCatalog(ctx context.Context, db *store.Store, cat *catalog.Catalog) error {
	prev, err := db.GetSetting(ctx, settingCatalogDigest)
	if err != nil {
		return err
	}
	if prev == cat.Digest() {
		return nil
	}
	if prev != "" {
		slog.Warn("form catalog changed since last start; drafts keep answers for removed fields until submitted",
			"previous", prev, "current", cat.Digest())
	}
	return db.SetSetting(ctx, settingCatalogDigest, cat.Digest())
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	cat, err := catalog.Load(v.GetString("catalog"))
	if err != nil {
		return err
	}
	if err := recordCatalog(ctx, db, cat); err != nil {
		return fmt.Errorf("record catalog: %w", err)
	}

	drafts, closeDrafts, err := openDrafts(ctx, v, db)
	if err != nil {
		return fmt.Errorf("open draft backend: %w", err)
	}
	defer closeDrafts()
	if drafts == wizard.DraftStore(db) {
		n, err := db.PurgeDrafts(ctx, time.Now().Add(-v.GetDuration("draft-ttl")))
		if err != nil {
			return fmt.Errorf("purge drafts: %w", err)
		}
		if n > 0 {
			slog.Info("purged stale drafts", "count", n)
		}
	}
	if err := db.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up sessions", "error", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	metrics.Init()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(db, drafts, cat, handler.Config{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		SessionIdle:   v.GetDuration("session-idle"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware)

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"levels", len(cat.Levels),
		"draft_backend", v.GetString("draft-backend"),
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

func runFill(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cat, err := catalog.Load(v.GetString("catalog"))
	if err != nil {
		return err
	}
	level, err := cat.Level(v.GetString("level"))
	if err != nil {
		return err
	}

	user, err := db.GetUserByUsername(ctx, v.GetString("user"))
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if user == nil || !user.Active {
		return fmt.Errorf("no active user %q", v.GetString("user"))
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	runner := tui.NewRunner(nil)
	var drafts wizard.DraftStore
	closeDrafts := func() {}
	defer func() { closeDrafts() }()
	err = runner.WaitForBackend(ctx, func(ctx context.Context) error {
		if drafts == nil {
			d, closeFn, err := openDrafts(ctx, v, db)
			if err != nil {
				return err
			}
			drafts, closeDrafts = d, closeFn
		}
		return pingBackends(ctx, db, drafts)
	})
	if errors.Is(err, tui.ErrAborted) {
		return nil
	}
	if err != nil {
		return err
	}

	toggles, err := db.Toggles(ctx)
	if err != nil {
		return fmt.Errorf("read toggles: %w", err)
	}

	ctrl, err := wizard.New(ctx, wizard.Config{
		Catalog:     cat,
		Level:       level,
		Respondent:  user.Username,
		Toggles:     toggles,
		Drafts:      drafts,
		Submissions: db,
		Identity: wizard.IdentityFunc(func(context.Context) (*model.User, error) {
			return user, nil
		}),
		Confirm: runner.Confirm,
	})
	if err != nil {
		return err
	}

	err = runner.Run(ctx, ctrl)
	if errors.Is(err, tui.ErrAborted) {
		slog.Info("fill aborted; draft kept", "level", level.ID)
		return nil
	}
	return err
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cat, err := catalog.Load(v.GetString("catalog"))
	if err != nil {
		return err
	}

	export, err := db.ExportReports(ctx, v.GetString("school"), v.GetString("period"))
	if err != nil {
		return fmt.Errorf("export reports: %w", err)
	}
	cat.LabelReports(&export)

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	role := model.UserRole(v.GetString("role"))
	switch role {
	case model.UserRoleRespondent, model.UserRoleDistrict, model.UserRoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	password := v.GetString("password")
	if password == "" {
		return fmt.Errorf("password is required: set --password flag or MEA_PASSWORD env var")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	username := v.GetString("username")
	display := v.GetString("display-name")
	if display == "" {
		display = username
	}
	id, err := db.CreateUser(ctx, model.User{
		Username:     username,
		DisplayName:  display,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	slog.Info("created user", "id", id, "username", username, "role", role)
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or MEA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
