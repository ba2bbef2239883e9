package main

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/config"
	"github.com/nerrad567/meshgate/internal/process"
)

// routerSettings converts the validated configuration into router settings
// and the mesh profile for the configured mode.
func routerSettings(cfg *config.Config) (borderrouter.RouterConfig, borderrouter.MeshProfile, error) {
	driver, err := borderrouter.ParseBackhaulDriver(cfg.Backhaul.Driver)
	if err != nil {
		return borderrouter.RouterConfig{}, nil, err
	}

	backhaul := borderrouter.BackhaulSettings{
		Driver:   driver,
		DriverID: borderrouter.DriverID(cfg.Backhaul.DriverID),
		Metric:   cfg.Backhaul.Metric,
	}
	if prefix, ok := cfg.StaticBackhaulPrefix(); ok {
		backhaul.StaticPrefix = prefix
		route, err := defaultRoute(cfg.Backhaul.DefaultRoute)
		if err != nil {
			return borderrouter.RouterConfig{}, nil, err
		}
		backhaul.DefaultRoute = route
	}

	rc := borderrouter.RouterConfig{
		Backhaul: backhaul,
		Tracker: borderrouter.TrackerConfig{
			ShutdownDelay: cfg.BorderRouter.ShutdownDelay,
			LeaseTime:     cfg.BorderRouter.DHCPLeaseTime,
			Policy:        borderrouter.ShutdownPolicy(cfg.BorderRouter.DHCPShutdownPolicy),
		},
		Retry: borderrouter.RetryConfig{
			Initial:     cfg.Mesh.Retry.Initial,
			Max:         cfg.Mesh.Retry.Max,
			MaxAttempts: cfg.Mesh.Retry.MaxAttempts,
		},
		MeshMetric:   cfg.Mesh.Metric,
		PrefixLength: cfg.BorderRouter.PrefixLength,
		Reconnect:    cfg.Mesh.Reconnect,
	}

	profile, err := borderrouter.NewMeshProfile(cfg.Mesh.Mode, borderrouter.MeshSettings{
		DriverID:    borderrouter.DriverID(cfg.Mesh.DriverID),
		NetworkName: cfg.Mesh.NetworkName,
		PANID:       cfg.Mesh.PANID,
		Channel:     cfg.Mesh.Channel,
	})
	if err != nil {
		return borderrouter.RouterConfig{}, nil, err
	}
	return rc, profile, nil
}

// defaultRoute returns the static default route, or nil when no next hop is
// configured. An empty prefix means ::/0.
func defaultRoute(rc config.RouteConfig) (*borderrouter.Route, error) {
	if rc.NextHop == "" {
		return nil, nil
	}
	nextHop, err := netip.ParseAddr(rc.NextHop)
	if err != nil {
		return nil, fmt.Errorf("default route next hop: %w", err)
	}
	prefix := netip.PrefixFrom(netip.IPv6Unspecified(), 0)
	if rc.Prefix != "" {
		if prefix, err = netip.ParsePrefix(rc.Prefix); err != nil {
			return nil, fmt.Errorf("default route prefix: %w", err)
		}
	}
	return &borderrouter.Route{Prefix: prefix, NextHop: nextHop}, nil
}

// routeProber is the stack call used as the daemon liveness probe.
type routeProber interface {
	RoutingTable(ctx context.Context) ([]borderrouter.RouteEntry, error)
}

// daemonConfig builds the supervisor settings for the stack daemon. A
// routing table request doubles as its health check.
func daemonConfig(dc config.DaemonConfig, probe routeProber) process.Config {
	cfg := process.DefaultConfig("stackd", dc.Binary, dc.Args)
	cfg.RestartOnFailure = dc.RestartOnFailure
	cfg.RestartDelay = dc.RestartDelay
	cfg.MaxRestartDelay = dc.MaxRestartDelay
	cfg.MaxRestartAttempts = dc.MaxRestartAttempts
	if probe != nil {
		cfg.HealthCheckFunc = func(ctx context.Context) error {
			_, err := probe.RoutingTable(ctx)
			return err
		}
	}
	return cfg
}
