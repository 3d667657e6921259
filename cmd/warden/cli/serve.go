package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/metrics"
	"github.com/meshwarden/warden/internal/resolve"
	"github.com/meshwarden/warden/internal/server"
	"github.com/meshwarden/warden/internal/service"
	"github.com/meshwarden/warden/internal/telemetry"
)

const banner = `
__      ____ _ _ __ __| | ___ _ __
\ \ /\ / / _` + "`" + ` | '__/ _` + "`" + ` |/ _ \ '_ \
 \ V  V / (_| | | | (_| |  __/ | | |
  \_/\_/ \__,_|_|  \__,_|\___|_| |_|
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		dev        bool
		background bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Warden control plane",
		Long:  "Start the HTTP server that resolves access, tracks topology, and serves the management API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				return runServeBackground()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&background, "background", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// runServeBackground re-execs the current binary detached from the
// terminal, logging to the data directory.
func runServeBackground() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve"}
	for _, a := range os.Args[2:] {
		if a != "--background" && a != "-d" {
			args = append(args, a)
		}
	}

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("Server started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	return nil
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Config store (SQLite)
	store, err := config.NewStore(resolveDataDir())
	if err != nil {
		return fmt.Errorf("init config store: %w", err)
	}
	defer store.Close()
	logger.Info("config store initialized", "path", resolveDataDir())

	// 2. Services
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "warden-dev-secret-change-me"
		logger.Warn("using development JWT secret - set WARDEN_AUTH_JWT_SECRET in production")
	}
	authSvc := service.NewAuthService(store, jwtSecret)

	controlPlaneURL := viper.GetString("control_plane.url")
	if controlPlaneURL == "" {
		controlPlaneURL = fmt.Sprintf("http://%s:%d", host, port)
	}
	provSvc := service.NewProvisioningService(store, controlPlaneURL)
	credSvc := service.NewCredentialService(store, authSvc)
	resolver := resolve.New(store)
	m := metrics.New()

	// 3. First-run check
	ctx := context.Background()
	hasAdmin, err := store.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: warden admin create")
	}

	// 4. Telemetry
	tracker := telemetry.New(ctx, store, func() telemetry.Properties {
		counts, _ := store.CountAll(context.Background())
		return telemetry.Properties{
			Version:   appVersion,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			Rules:     counts.Rules,
			Networks:  counts.Networks,
			Hubs:      counts.Hubs,
			Spokes:    counts.Spokes,
			Gateways:  counts.Gateways,
			Admins:    counts.Admins,
			APIKeys:   counts.APIKeys,
		}
	})
	tracker.Start()
	defer tracker.Shutdown()
	if tracker != nil {
		telemetry.PrintNotice()
	}

	// 5. HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rl := viper.GetInt("rate_limit.requests_per_minute"); rl > 0 {
		srvCfg.RateLimit = rl
	}
	if d := viper.GetDuration("server.shutdown_timeout"); d > 0 {
		srvCfg.ShutdownTimeout = d
	}

	srv := server.New(srvCfg, store, authSvc, provSvc, credSvc, resolver, m, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Warden %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ API:     http://%s:%d/api/v1\n", host, port)
	fmt.Printf("→ Metrics: http://%s:%d/metrics\n", host, port)
	fmt.Printf("→ OpenAPI: http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
