package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"piplan/internal/app"
	"piplan/internal/config"
	"piplan/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "piplan",
	Short: "PI planning negotiation engine",
	Long: `piplan turns a backlog snapshot into a Program Increment plan.
- Features are ranked by WSJF, deadline urgency and milestones.
- Stories are negotiated one by one with their team's capacity ledger, earliest iteration first.
- A story is accepted only once its feature and story dependencies are scheduled and the buffered capacity allows it.
- Every proposal, acceptance and rejection is kept as the run's trace under .piplan/.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PIPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")
	for _, name := range []string{"workspace", "json", "project", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage piplan.yml",
		Long:  "piplan.yml holds the default iterations, teams and planning knobs (capacity buffer, rounds, fallback effort) plus logging and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default piplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			projectID := viper.GetString("project")
			if projectID == "" {
				cfg, err := app.ResolveConfig(workspace, "")
				if err != nil {
					return err
				}
				projectID = cfg.Project.ID
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path, "project": projectID})
			}
			fmt.Printf("wrote %s for project %s\n", path, projectID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("project"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate piplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Serves the planning API. PIPLAN_ADDR, PIPLAN_BASE_PATH and PIPLAN_JWT_SECRET configure the listener; flags win over the environment. Without a JWT secret the API is unauthenticated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := server.LoadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				settings.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				settings.BasePath = basePath
			}
			return withWorkspace(func(ws *app.Workspace) error {
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					BasePath: settings.BasePath,
					Auth:     server.AuthConfig{JWTSecret: settings.JWTSecret, Logger: ws.Log},
					Log:      ws.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: settings.Addr, Handler: handler, ReadTimeout: settings.ReadTimeout}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
					defer cancel()
					srv.Shutdown(ctx)
				}()
				ws.Log.Info("serving planning API",
					"addr", settings.Addr,
					"base_path", settings.BasePath,
					"auth", settings.JWTSecret != "",
					"project", ws.Config.Project.ID)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withWorkspace(fn func(*app.Workspace) error) error {
	ws, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		Project:   viper.GetString("project"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ws)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
