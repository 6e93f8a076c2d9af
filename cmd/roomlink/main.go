// RoomLink Core - room-device connector
//
// This is the main entry point for RoomLink Core. It connects to video
// endpoints over XAPI, keeps one session per device and exposes them
// through a REST and WebSocket API, with session state relayed to MQTT
// and recorded in SQLite.
package main

import (
	"context"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/roomlink-core/internal/api"
	"github.com/nerrad567/roomlink-core/internal/audit"
	"github.com/nerrad567/roomlink-core/internal/auth"
	"github.com/nerrad567/roomlink-core/internal/booking"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/config"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/database"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/roomlink-core/internal/relay"
	"github.com/nerrad567/roomlink-core/internal/session"
	"github.com/nerrad567/roomlink-core/internal/xapi"
	"github.com/nerrad567/roomlink-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// presetConcurrency bounds parallel preset connects at startup.
const presetConcurrency = 4

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runToken mints an API bearer token signed with the configured secret.
//
//	roomlink token -subject panel-1 -role viewer -ttl 24h
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. the client name (required)")
	role := fs.String("role", string(auth.RoleViewer), "viewer or operator")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.GetAccessTokenTTL()
	}

	token, err := auth.IssueToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting RoomLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	// Database and audit trail
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	events := audit.NewSQLiteRepository(db.DB)

	checks := map[string]api.HealthChecker{"database": db}

	// MQTT is optional; without it state is still audited and broadcast.
	var publisher relay.Publisher
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		publisher = mqttClient
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Sessions
	sessCfg, err := sessionConfig(cfg, log)
	if err != nil {
		return err
	}
	registry := session.NewRegistry(sessCfg)

	bookings := booking.NewService(booking.ResolverFunc(func(ref string) (booking.Executor, error) {
		sess, resolveErr := registry.Resolve(ref)
		if resolveErr != nil {
			return nil, resolveErr
		}
		return sess, nil
	}))
	bookings.SetLogger(log)

	rl := relay.New(relay.RegistrySource{Registry: registry}, relay.Options{
		Publisher:     publisher,
		Recorder:      events,
		FeedbackPaths: cfg.Devices.FeedbackPaths,
		Logger:        log,
	})
	rl.Start()

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		Logger:    log,
		Registry:  registry,
		Bookings:  bookings,
		Events:    events,
		Checks:    checks,
		Version:   version,
		JWTSecret: cfg.Security.JWT.Secret,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	registry.SetOnStateChange(func(p session.Projection) {
		rl.Handle(p)
		srv.BroadcastState(p)
	})
	if mqttClient != nil {
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing session state")
			rl.Resync()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	connectPresets(ctx, registry, cfg.Devices.Presets, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// API first so no new work arrives, then sessions, then the relay drains
	// their final transitions. Deferred MQTT and database closes run last.
	if err := srv.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	if err := registry.Close(context.Background()); err != nil {
		log.Error("error closing sessions", "error", err)
	}
	rl.Close()
	handled, dropped := rl.Stats()
	log.Info("relay stopped", "handled", handled, "dropped", dropped)

	log.Info("RoomLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Checks ROOMLINK_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("ROOMLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// sessionConfig translates the devices section into session settings.
func sessionConfig(cfg *config.Config, log *logging.Logger) (session.Config, error) {
	order := make([]xapi.Kind, 0, len(cfg.Devices.TransportOrder))
	for _, name := range cfg.Devices.TransportOrder {
		kind, err := xapi.ParseKind(name)
		if err != nil {
			return session.Config{}, fmt.Errorf("devices.transport_order: %w", err)
		}
		order = append(order, kind)
	}

	opts := xapi.Options{
		HandshakeTimeout:            cfg.GetHandshakeTimeout(),
		RequestTimeout:              cfg.GetRequestTimeout(),
		StreamingPath:               cfg.Devices.StreamingPath,
		StreamingInsecureSkipVerify: !cfg.Devices.TLS.VerifyStreaming,
		HTTPVerifyCertificates:      cfg.Devices.TLS.VerifyHTTP,
		Logger:                      log,
	}
	if cfg.Devices.TLS.CAFile != "" {
		pool, err := loadCAFile(cfg.Devices.TLS.CAFile)
		if err != nil {
			return session.Config{}, err
		}
		opts.RootCAs = pool
	}

	return session.Config{
		TransportOrder:   order,
		IdentityPath:     cfg.Devices.IdentityPath,
		ConnectTimeout:   cfg.GetConnectTimeout(),
		TransportOptions: opts,
		Logger:           log,
	}, nil
}

func loadCAFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("device CA file contains no certificates")
	}
	return pool, nil
}

// connectPresets connects the configured devices in parallel. A failed
// preset is logged and left registered in the failed state; it never
// stops startup.
func connectPresets(ctx context.Context, registry *session.Registry, presets []config.DevicePreset, log *logging.Logger) {
	if len(presets) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(presetConcurrency)
	for _, p := range presets {
		g.Go(func() error {
			proj, err := registry.ConnectDevice(gctx, xapi.Credentials{
				Host:     p.Host,
				Username: p.Username,
				Password: p.Password,
			})
			if err != nil {
				log.Warn("preset device connect failed",
					"host", p.Host,
					"error_kind", xapi.Classify(err),
					"error", err,
				)
				return nil
			}
			log.Info("preset device connected",
				"session", proj.ID,
				"host", proj.Host,
				"transport", proj.Transport,
			)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors
}
