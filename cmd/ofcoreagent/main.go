// Command ofcoreagent is the controller-core daemon: it multiplexes
// OpenFlow requests to connected switches and drives beacon-based link
// discovery across them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runos-go/ofcore/internal/agent"
	"github.com/runos-go/ofcore/internal/config"
	"github.com/runos-go/ofcore/internal/devicedb"
	"github.com/runos-go/ofcore/internal/idpool"
	"github.com/runos-go/ofcore/internal/linkdiscovery"
	ofcoremetrics "github.com/runos-go/ofcore/internal/metrics"
	"github.com/runos-go/ofcore/internal/ofp"
	appversion "github.com/runos-go/ofcore/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ofcoreagent",
		Short: "Multiplex OpenFlow requests and discover inter-switch links",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	return cmd
}

// daemon bundles the long-lived components a real switch-connection
// listener would drive. It stands in for the concrete transport that
// spec's external "physical connection" collaborator would supply.
type daemon struct {
	discovery *linkdiscovery.Service
	metrics   *ofcoremetrics.Collector
	logger    *slog.Logger

	// slots hands out a small per-switch identifier from a fixed capacity.
	// A slot is released only if bringing its switch up fails; nothing in
	// the daemon releases it when a switch disconnects. Agent sessions key their own
	// Xid space independently; this is a separate, daemon-level allocation
	// for bookkeeping slots like per-switch worker affinity or log indices.
	slots *idpool.Pool
}

// newDaemon wires the long-lived components together. slotCapacity bounds
// the number of switches registerSwitch can bring up successfully.
func newDaemon(discovery *linkdiscovery.Service, metrics *ofcoremetrics.Collector, logger *slog.Logger, slotCapacity uint32) (*daemon, error) {
	slots, err := idpool.New(0, uint64(slotCapacity), idpool.Forward)
	if err != nil {
		return nil, fmt.Errorf("create switch slot pool: %w", err)
	}
	return &daemon{discovery: discovery, metrics: metrics, logger: logger, slots: slots}, nil
}

// registerSwitch acquires a slot, builds an Agent over conn, and runs it
// through the switch-up sequence: installing the beacon admission rule
// and seeding the live port set. A concrete transport calls this once per
// accepted connection, after the OpenFlow handshake resolves dpid and
// ports.
func (d *daemon) registerSwitch(ctx context.Context, dpid uint64, conn ofp.Connection, ports []uint32) (*agent.Agent, error) {
	slot, err := d.slots.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquire switch slot for dpid=%#x: %w", dpid, err)
	}

	ag := agent.New(dpid, conn, d.logger, agent.WithMetrics(d.metrics))
	if err := d.discovery.SwitchUp(ctx, dpid, ag, ports); err != nil {
		_ = d.slots.Release(slot)
		return nil, fmt.Errorf("switch up dpid=%#x: %w", dpid, err)
	}
	return ag, nil
}

// loggingObserver relays link lifecycle events to structured logs. A real
// deployment would additionally publish these to a topology store; none is
// named anywhere in scope, so logging is the full observer here.
type loggingObserver struct {
	logger *slog.Logger
}

func (o loggingObserver) LinkDiscovered(key linkdiscovery.LinkKey) {
	o.logger.Info("link discovered",
		slog.Uint64("src_dpid", key.Src.DPID), slog.Uint64("src_port", uint64(key.Src.Port)),
		slog.Uint64("dst_dpid", key.Dst.DPID), slog.Uint64("dst_port", uint64(key.Dst.Port)),
	)
}

func (o loggingObserver) LinkBroken(key linkdiscovery.LinkKey) {
	o.logger.Warn("link broken",
		slog.Uint64("src_dpid", key.Src.DPID), slog.Uint64("src_port", uint64(key.Src.Port)),
		slog.Uint64("dst_dpid", key.Dst.DPID), slog.Uint64("dst_port", uint64(key.Dst.Port)),
	)
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("ofcoreagent starting",
		slog.String("version", appversion.Version),
		slog.String("listener_addr", cfg.Listener.Addr),
		slog.Duration("link_discovery_poll_interval", cfg.LinkDiscovery.PollInterval),
	)

	reg := prometheus.NewRegistry()
	collector := ofcoremetrics.NewCollector(reg)

	ddb := devicedb.New(logger, nil, devicedb.WithMetrics(collector))
	if err := loadPropsFiles(ddb, cfg.DeviceDB.PropsFiles, logger); err != nil {
		return err
	}

	disc := linkdiscovery.New(cfg.LinkDiscovery.PollInterval, loggingObserver{logger: logger}, logger,
		linkdiscovery.WithMetrics(collector),
		linkdiscovery.WithQueueID(cfg.LinkDiscovery.QueueID),
	)

	d, err := newDaemon(disc, collector, logger, cfg.IDPool.Capacity)
	if err != nil {
		return err
	}
	_ = d // registerSwitch is invoked by a concrete transport's accept loop, not built here.

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		disc.Run(gCtx)
		return nil
	})

	startSIGHUPReload(gCtx, g, configPath, logLevel, logger)

	logger.Info("ofcoreagent ready")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("ofcoreagent stopped")
	return nil
}

// loadPropsFiles loads every configured DeviceDb property-sheet source in
// order. A missing or malformed file aborts startup rather than running
// with a partially loaded device database.
func loadPropsFiles(ddb *devicedb.DB, paths []string, logger *slog.Logger) error {
	for _, path := range paths {
		if err := ddb.AddPropsFile(path); err != nil {
			return fmt.Errorf("load device db props file %s: %w", path, err)
		}
		logger.Debug("loaded device db props file", slog.String("path", path))
	}
	return nil
}

// startSIGHUPReload registers the SIGHUP handling goroutine that reloads
// the dynamic log level from a fresh read of the configuration file.
func startSIGHUPReload(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				reloadLogLevel(configPath, logLevel, logger)
			}
		}
	})
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
