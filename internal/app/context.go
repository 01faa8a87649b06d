package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"piplan/internal/config"
	"piplan/internal/db"
	"piplan/internal/engine"
	"piplan/internal/logging"
	"piplan/internal/migrate"
)

// Options selects the workspace and overrides config values for one command.
type Options struct {
	Workspace string
	Project   string
	LogLevel  string
	LogFormat string
	InMemory  bool
}

// Workspace is an opened planning workspace: config, logger, migrated
// database and the engine on top of them.
type Workspace struct {
	Dir    string
	Config *config.Config
	Log    *slog.Logger
	DB     *sql.DB
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// ResolveConfig loads piplan.yml from the workspace. A workspace without one
// plans with the default config, named after the project override or the
// workspace directory.
func ResolveConfig(workspace, projectOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		projectID := projectOverride
		if projectID == "" {
			projectID = defaultProjectID(workspace)
		}
		cfg = config.Default(projectID)
	}
	if projectOverride != "" {
		cfg.Project.ID = projectOverride
	}
	return cfg, nil
}

// NewLogger builds the process logger from config, letting non-empty flag
// values win.
func NewLogger(cfg *config.Config, level, format string) (*slog.Logger, error) {
	lc := logging.Config{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)}
	if level != "" {
		lc.Level = level
	}
	if format != "" {
		lc.Format = logging.Format(format)
	}
	return logging.New(lc)
}

// Open resolves config, opens and migrates the workspace database and
// builds the engine.
func Open(opts Options) (*Workspace, error) {
	dir := opts.Workspace
	if dir == "" {
		dir = "."
	}
	cfg, err := ResolveConfig(dir, opts.Project)
	if err != nil {
		return nil, err
	}
	log, err := NewLogger(cfg, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir, InMemory: opts.InMemory})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("workspace opened", "dir", dir, "project", cfg.Project.ID, "schema_version", version)
	return &Workspace{
		Dir:    dir,
		Config: cfg,
		Log:    log,
		DB:     conn,
		Engine: engine.New(conn, cfg, log),
	}, nil
}

func defaultProjectID(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "default"
	}
	base := filepath.Base(abs)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "default"
	}
	return base
}
