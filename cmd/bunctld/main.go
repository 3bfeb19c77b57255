// Command bunctld is the supervisor daemon: it loads an app config file,
// registers every app with the hard core, and serves the control channel
// internal/ipc exposes until signaled to stop. Grounded on the teacher's
// cmd/provisr main.go/daemon.go — the same cobra root plus a background-
// daemonize flag — rebuilt around bunctl's Registry/Controller/Server
// wiring instead of provisr.Manager's direct method calls.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/appgroup"
	"github.com/bunctl/bunctl/internal/auth"
	"github.com/bunctl/bunctl/internal/configio"
	"github.com/bunctl/bunctl/internal/cronapp"
	"github.com/bunctl/bunctl/internal/daemon"
	"github.com/bunctl/bunctl/internal/history"
	historyfactory "github.com/bunctl/bunctl/internal/history/factory"
	"github.com/bunctl/bunctl/internal/httpapi"
	"github.com/bunctl/bunctl/internal/ipc"
	"github.com/bunctl/bunctl/internal/obslog"
	"github.com/bunctl/bunctl/internal/obsmetrics"
	"github.com/bunctl/bunctl/internal/registry"
	"github.com/bunctl/bunctl/internal/store"
	"github.com/bunctl/bunctl/internal/supervisor"
	"github.com/bunctl/bunctl/internal/tlsutil"
)

func main() {
	var (
		configPath    string
		daemonName    string
		logFile       string
		logJSON       bool
		metricsListen string
		daemonize     bool
		httpListen    string
		httpAuth      bool
		httpTLSDir    string
		tokenDBPath   string
		historyDSN    string
	)

	root := &cobra.Command{
		Use:   "bunctld",
		Short: "Run the bunctl supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemonize {
				return daemonizeSelf(logFile)
			}
			cfg := runConfig{
				configPath:    configPath,
				daemonName:    daemonName,
				logFile:       logFile,
				logJSON:       logJSON,
				metricsListen: metricsListen,
				httpListen:    httpListen,
				httpAuth:      httpAuth,
				httpTLSDir:    httpTLSDir,
				tokenDBPath:   tokenDBPath,
				historyDSN:    historyDSN,
			}
			return run(cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the app config file (yaml/toml/json)")
	root.Flags().StringVar(&daemonName, "name", "bunctl", "control-channel socket/pipe name")
	root.Flags().StringVar(&logFile, "logfile", "", "path to tee the daemon's own operational log")
	root.Flags().BoolVar(&logJSON, "log-json", true, "emit the daemon's own log as JSON")
	root.Flags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus /metrics (e.g. :9090)")
	root.Flags().BoolVar(&daemonize, "daemonize", false, "fork into the background before serving")
	root.Flags().StringVar(&httpListen, "http-listen", "", "address to serve the secondary HTTP status/control surface (e.g. :8080)")
	root.Flags().BoolVar(&httpAuth, "http-auth", false, "require a bearer token on the HTTP surface")
	root.Flags().StringVar(&httpTLSDir, "http-tls-dir", "", "directory to hold/auto-generate the HTTP surface's TLS cert and key")
	root.Flags().StringVar(&tokenDBPath, "token-db", "", "path to the bearer-token SQLite database (defaults to in-memory)")
	root.Flags().StringVar(&historyDSN, "history-dsn", "", "DSN of a history sink to export lifecycle events to (sqlite/postgres/clickhouse/opensearch)")

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runConfig bundles run's flags; cobra hands them over individually, this
// keeps run itself readable as the surface has grown past the teacher's
// original handful of daemon flags.
type runConfig struct {
	configPath    string
	daemonName    string
	logFile       string
	logJSON       bool
	metricsListen string
	httpListen    string
	httpAuth      bool
	httpTLSDir    string
	tokenDBPath   string
	historyDSN    string
}

func run(rc runConfig) error {
	log := obslog.New(obslog.Config{FilePath: rc.logFile, JSON: rc.logJSON, Level: slog.LevelInfo})

	reg := registry.New()
	sup, err := supervisor.New()
	if err != nil {
		return fmt.Errorf("bunctld: build supervisor: %w", err)
	}

	metrics := obsmetrics.New()
	metrics.MustRegister(prometheusDefaultRegisterer())

	d := daemon.New(reg, sup, metrics, log)

	var (
		groupSpecs = map[string]appgroup.Spec{}
		cronJobs   []*cronapp.Job
	)
	if rc.configPath != "" {
		file, cfgs, err := configio.LoadFile(rc.configPath)
		if err != nil {
			return fmt.Errorf("bunctld: load config: %w", err)
		}
		byName := make(map[string]app.Config, len(cfgs))
		for _, cfg := range cfgs {
			if err := d.Register(cfg); err != nil {
				return fmt.Errorf("bunctld: register %s: %w", cfg.Name, err)
			}
			byName[cfg.Name] = cfg
		}
		for name, members := range file.Groups {
			groupSpecs[name] = appgroup.Spec{Name: name, Members: membersOf(byName, members)}
		}
		for _, entry := range file.Cron {
			cfg, ok := byName[entry.App]
			if !ok {
				return fmt.Errorf("bunctld: cron job %q references unknown app %q", entry.Name, entry.App)
			}
			cronJobs = append(cronJobs, &cronapp.Job{Name: entry.Name, Config: cfg, Schedule: entry.Schedule})
		}
	}

	groups := appgroup.New(d)
	sched := cronapp.NewScheduler(d)
	for _, job := range cronJobs {
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("bunctld: add cron job %s: %w", job.Name, err)
		}
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("bunctld: start cron scheduler: %w", err)
	}
	defer sched.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if rc.metricsListen != "" {
		go serveMetrics(ctx, rc.metricsListen, metrics, log)
	}

	var recorderClose func() error
	if rc.historyDSN != "" {
		closeFn, err := wireHistory(ctx, rc.historyDSN, reg, log)
		if err != nil {
			return fmt.Errorf("bunctld: wire history: %w", err)
		}
		recorderClose = closeFn
	}
	if recorderClose != nil {
		defer func() { _ = recorderClose() }()
	}

	if rc.httpListen != "" {
		if err := serveHTTPAPI(ctx, rc, d, groups, log); err != nil {
			return fmt.Errorf("bunctld: serve http api: %w", err)
		}
	}

	srv := ipc.NewServer(rc.daemonName, d, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx)
	}()

	log.Info("bunctld started", "socket", ipc.SocketPath(rc.daemonName), "groups", len(groupSpecs))
	d.Run(ctx)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("bunctld: serve: %w", err)
		}
	case <-time.After(time.Second):
	}
	log.Info("bunctld stopped")
	return nil
}

func prometheusDefaultRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func serveMetrics(ctx context.Context, addr string, metrics *obsmetrics.Metrics, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}

// daemonizeSelf re-execs the current process detached from the controlling
// terminal, mirroring the teacher's cmd/provisr daemonize: the child carries
// every flag except --daemonize so it starts serving directly.
func daemonizeSelf(logFile string) error {
	if os.Getppid() == 1 {
		return nil
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("bunctld: resolve executable: %w", err)
	}

	var newArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "--daemonize" {
			continue
		}
		newArgs = append(newArgs, arg)
	}

	// #nosec G204
	cmd := exec.Command(executable, newArgs...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	if logFile != "" {
		// #nosec G304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("bunctld: open logfile: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bunctld: start daemon: %w", err)
	}
	fmt.Printf("bunctld started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// membersOf resolves a group's member names to the app.Config each was
// registered with, so internal/appgroup can re-register/restart full
// specs rather than bare names.
func membersOf(byName map[string]app.Config, names []string) []app.Config {
	out := make([]app.Config, 0, len(names))
	for _, n := range names {
		if cfg, ok := byName[n]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// wireHistory builds a history.Sink from dsn, subscribes a history.Recorder
// to reg's event bus, and returns a func that unsubscribes and closes the
// sink. Grounded on internal/daemon.Daemon.Run's own bus-forwarding
// goroutine: one Subscribe, one drain loop, run for the lifetime of ctx.
func wireHistory(ctx context.Context, dsn string, reg *registry.Registry, log *slog.Logger) (func() error, error) {
	sink, err := historyfactory.NewSinkFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("build sink: %w", err)
	}
	rec := history.NewRecorder(log, sink)
	sub := reg.Events.Subscribe(registry.Filter{})
	go rec.Run(ctx, sub)
	return func() error {
		sub.Unsubscribe()
		return rec.Close()
	}, nil
}

// serveHTTPAPI wires internal/httpapi's secondary read-mostly surface
// behind an optional internal/auth bearer-token guard and optional TLS,
// and serves it in the background until ctx is canceled.
func serveHTTPAPI(ctx context.Context, rc runConfig, d *daemon.Daemon, groups *appgroup.Group, log *slog.Logger) error {
	var guard *auth.Middleware
	if rc.httpAuth {
		tokenPath := rc.tokenDBPath
		if tokenPath == "" {
			tokenPath = ":memory:"
		}
		tokens, err := store.NewSQLiteTokenStore(tokenPath)
		if err != nil {
			return fmt.Errorf("open token store: %w", err)
		}
		svc, err := auth.New(tokens, auth.Config{})
		if err != nil {
			return fmt.Errorf("build auth service: %w", err)
		}
		guard = auth.NewMiddleware(svc, true)
	}

	router := httpapi.New(d, "", guard, groups)

	var tlsCfg *tlsutil.Config
	if rc.httpTLSDir != "" {
		tlsCfg = &tlsutil.Config{
			Enabled:      true,
			Dir:          rc.httpTLSDir,
			AutoGenerate: true,
			AutoGen:      &tlsutil.AutoGen{CommonName: "bunctl", ValidDays: 825},
		}
	}

	go func() {
		if err := httpapi.Serve(ctx, rc.httpListen, router.Handler(), tlsCfg); err != nil {
			log.Error("http api server failed", "error", err)
		}
	}()
	return nil
}
