// meshgate - border router orchestration daemon
//
// meshgate joins a low-power IPv6 mesh (6LoWPAN-ND, Thread or Wi-SUN) to an
// upstream backhaul. It drives an external protocol stack over MQTT, keeps
// the DHCPv6 prefix delegation server consistent with backhaul and mesh
// readiness, retries mesh bootstrap with backoff and journals every
// transition.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/config"
	"github.com/nerrad567/meshgate/internal/infrastructure/database"
	"github.com/nerrad567/meshgate/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshgate/internal/infrastructure/logging"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshgate/internal/journal"
	"github.com/nerrad567/meshgate/internal/process"
	"github.com/nerrad567/meshgate/internal/stackbus"
	"github.com/nerrad567/meshgate/internal/tasklet"
	"github.com/nerrad567/meshgate/internal/telemetry"
	"github.com/nerrad567/meshgate/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// loopQueueSize bounds the router event queue. Ingress drops events when
// it is full.
const loopQueueSize = 512

// shutdownTimeout bounds the router close call during shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// Deferred cleanup runs in reverse order: status reporter, ingress bridge,
// stack client, router timers, router loop, stack daemon, journal,
// InfluxDB, MQTT, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting meshgate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site_id", cfg.Site.ID,
		"mesh_mode", cfg.Mesh.Mode,
		"backhaul_driver", cfg.Backhaul.Driver,
	)

	routerCfg, profile, err := routerSettings(cfg)
	if err != nil {
		return fmt.Errorf("building router settings: %w", err)
	}

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

	repo := journal.NewSQLiteRepository(db.DB)
	reportLastState(ctx, repo, log)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	qos := byte(cfg.MQTT.QoS)
	clk := clock.New()

	loop := tasklet.New(loopQueueSize)
	loop.SetLogger(log.Component("loop"))

	stack := stackbus.NewClient(mqttClient, stackbus.ClientOptions{
		QoS:     qos,
		Timeout: cfg.Stack.RequestTimeout,
		Clock:   clk,
		Logger:  log.Component("stackbus"),
	})

	router, err := borderrouter.NewRouter(borderrouter.RouterOptions{
		Config:    routerCfg,
		Profile:   profile,
		Stack:     stack,
		Scheduler: tasklet.NewClockScheduler(clk, loop),
		Clock:     clk,
		Logger:    log.Component("borderrouter"),
	})
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	recorder := journal.NewRecorder(repo, journal.RecorderOptions{
		Logger:  log.Component("journal"),
		Initial: router.Snapshot(),
	})
	recorder.Start(ctx)
	defer func() {
		recorder.RecordLifecycle("stopped", clk.Now())
		recorder.Stop()
		if dropped := recorder.Dropped(); dropped > 0 {
			log.Warn("journal writes dropped", "count", dropped)
		}
	}()

	if cfg.Stack.Daemon.Managed {
		daemon := process.NewManager(daemonConfig(cfg.Stack.Daemon, stack))
		daemon.SetLogger(log.Component("stackd"))
		if startErr := daemon.Start(ctx); startErr != nil {
			return fmt.Errorf("starting stack daemon: %w", startErr)
		}
		defer func() {
			log.Info("stopping stack daemon")
			if stopErr := daemon.Stop(); stopErr != nil {
				log.Error("error stopping stack daemon", "error", stopErr)
			}
		}()
	}

	// The loop outlives ctx so the router can be closed on it during shutdown.
	loop.Start(context.WithoutCancel(ctx))
	defer loop.Stop()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if callErr := loop.Call(closeCtx, router.Close); callErr != nil {
			log.Warn("router close did not complete", "error", callErr)
		}
	}()

	if startErr := stack.Start(); startErr != nil {
		return fmt.Errorf("starting stack client: %w", startErr)
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			log.Error("error closing stack client", "error", closeErr)
		}
	}()

	var sinks []stackbus.SnapshotSink
	observers := borderrouter.Observers{recorder, stackbus.NewPublisher(mqttClient, qos, log.Component("events"))}
	if influxClient != nil {
		points := telemetry.NewRecorder(influxClient)
		observers = append(observers, points)
		sinks = append(sinks, points)
	}
	sinks = append(sinks, recorder)

	var reporter *stackbus.StatusReporter
	if cfg.BorderRouter.StatusInterval > 0 {
		reporter, err = stackbus.NewStatusReporter(stackbus.StatusReporterOptions{
			Transport: mqttClient,
			Caller:    loop,
			Source:    router,
			QoS:       qos,
			SiteID:    cfg.Site.ID,
			Version:   version,
			Interval:  cfg.BorderRouter.StatusInterval,
			Sinks:     sinks,
			Clock:     clk,
			Logger:    log.Component("status"),
		})
		if err != nil {
			return fmt.Errorf("creating status reporter: %w", err)
		}
		observers = append(observers, reporter)
	}
	router.SetObserver(observers)

	if postErr := loop.Post(func() { router.Start(ctx) }); postErr != nil {
		return fmt.Errorf("starting router: %w", postErr)
	}
	recorder.RecordLifecycle("started", clk.Now())

	var onStatus func()
	if reporter != nil {
		onStatus = reporter.Trigger
	}
	bridge, err := stackbus.NewBridge(stackbus.BridgeOptions{
		Transport:       mqttClient,
		Dispatcher:      loop,
		Handler:         router,
		QoS:             qos,
		OnStatusRequest: onStatus,
		Logger:          log.Component("ingress"),
	})
	if err != nil {
		return fmt.Errorf("creating ingress bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting ingress bridge: %w", startErr)
	}
	defer bridge.Stop()

	if reporter != nil {
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns MESHGATE_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("MESHGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// reportLastState logs the router state persisted by the previous run.
func reportLastState(ctx context.Context, repo journal.Repository, log *logging.Logger) {
	last, err := repo.LoadState(ctx)
	switch {
	case errors.Is(err, journal.ErrNoState):
		log.Info("no previous router state")
	case err != nil:
		log.Warn("could not load previous router state", "error", err)
	default:
		prefix := "none"
		if last.Connection.HasPrefix() {
			prefix = last.Connection.DelegatedPrefix.String()
		}
		log.Info("previous router state",
			"at", last.At,
			"delegated_prefix", prefix,
			"dhcp_server_active", last.Connection.DHCPServerActive,
			"retry_state", last.Retry.State,
		)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
