package main

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func loadConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("MESHGATE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("MESHGATE_CONFIG", writeConfig(t, `
site:
  id: test-site
database:
  path: ""
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestRun_BrokerUnavailable(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MESHGATE_CONFIG", writeConfig(t, `
site:
  id: test-site
database:
  path: "`+filepath.Join(dir, "test.db")+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "meshgate-test"
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without a reachable broker")
	}
	// Migrations ran before the broker connection was attempted.
	if _, err := os.Stat(filepath.Join(dir, "test.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("MESHGATE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("MESHGATE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestRouterSettings_Defaults(t *testing.T) {
	cfg := loadConfig(t, "site:\n  id: br-lab\n")

	rc, profile, err := routerSettings(cfg)
	if err != nil {
		t.Fatalf("routerSettings() error = %v", err)
	}

	if profile.Mode() != borderrouter.MeshThread {
		t.Errorf("profile mode = %q, want thread", profile.Mode())
	}
	if rc.Backhaul.Driver != borderrouter.BackhaulEthernet {
		t.Errorf("backhaul driver = %q, want eth", rc.Backhaul.Driver)
	}
	if rc.Backhaul.Static() {
		t.Error("autonomous bootstrap produced a static backhaul")
	}
	if rc.Backhaul.DefaultRoute != nil {
		t.Errorf("DefaultRoute = %+v, want nil", rc.Backhaul.DefaultRoute)
	}
	if rc.Tracker.ShutdownDelay != 2*time.Minute || rc.Tracker.LeaseTime != 200*time.Second {
		t.Errorf("tracker = %+v, want 2m delay and 200s lease", rc.Tracker)
	}
	if rc.Tracker.Policy != borderrouter.ShutdownWithdraw {
		t.Errorf("policy = %q, want withdraw", rc.Tracker.Policy)
	}
	if rc.Retry.Initial != 3*time.Second || rc.Retry.Max != 9*time.Second {
		t.Errorf("retry = %+v, want 3s/9s", rc.Retry)
	}
	if rc.MeshMetric != 1000 || rc.PrefixLength != 64 || !rc.Reconnect {
		t.Errorf("router config = %+v", rc)
	}
	if got := profile.BringUpParams(borderrouter.Unset).DriverID; got != 1 {
		t.Errorf("mesh driver ID = %d, want 1", got)
	}
}

func TestRouterSettings_StaticBackhaul(t *testing.T) {
	cfg := loadConfig(t, `
site:
  id: br-lab
border_router:
  dhcp_shutdown_policy: delete
backhaul:
  driver: slip
  driver_id: 3
  bootstrap: static
  prefix: "2001:db8:1::/64"
  default_route:
    next_hop: "fe80::1"
  metric: 10
mesh:
  mode: wisun
  driver_id: 4
`)

	rc, profile, err := routerSettings(cfg)
	if err != nil {
		t.Fatalf("routerSettings() error = %v", err)
	}

	if profile.Mode() != borderrouter.MeshWiSUN {
		t.Errorf("profile mode = %q, want wisun", profile.Mode())
	}
	b := rc.Backhaul
	if b.Driver != borderrouter.BackhaulSLIP || b.DriverID != 3 || b.Metric != 10 {
		t.Errorf("backhaul = %+v", b)
	}
	if b.StaticPrefix != netip.MustParsePrefix("2001:db8:1::/64") {
		t.Errorf("StaticPrefix = %s", b.StaticPrefix)
	}
	if b.DefaultRoute == nil {
		t.Fatal("DefaultRoute = nil for static bootstrap with next hop")
	}
	if b.DefaultRoute.Prefix != netip.MustParsePrefix("::/0") {
		t.Errorf("DefaultRoute.Prefix = %s, want ::/0", b.DefaultRoute.Prefix)
	}
	if b.DefaultRoute.NextHop != netip.MustParseAddr("fe80::1") {
		t.Errorf("DefaultRoute.NextHop = %s, want fe80::1", b.DefaultRoute.NextHop)
	}
	if rc.Tracker.Policy != borderrouter.ShutdownDelete {
		t.Errorf("policy = %q, want delete", rc.Tracker.Policy)
	}
}

func TestDefaultRoute(t *testing.T) {
	tests := []struct {
		name    string
		in      config.RouteConfig
		want    string
		wantNil bool
		wantErr bool
	}{
		{name: "no next hop", in: config.RouteConfig{Prefix: "::/0"}, wantNil: true},
		{name: "default prefix", in: config.RouteConfig{NextHop: "fe80::1"}, want: "::/0"},
		{name: "explicit prefix", in: config.RouteConfig{Prefix: "2001:db8::/32", NextHop: "fe80::1"}, want: "2001:db8::/32"},
		{name: "bad next hop", in: config.RouteConfig{NextHop: "gateway"}, wantErr: true},
		{name: "bad prefix", in: config.RouteConfig{Prefix: "nope", NextHop: "fe80::1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := defaultRoute(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("defaultRoute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("defaultRoute() = %+v, want nil", got)
				}
				return
			}
			if got == nil || got.Prefix.String() != tt.want {
				t.Errorf("defaultRoute() = %+v, want prefix %s", got, tt.want)
			}
		})
	}
}

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) RoutingTable(context.Context) ([]borderrouter.RouteEntry, error) {
	f.calls++
	return nil, f.err
}

func TestDaemonConfig(t *testing.T) {
	dc := config.DaemonConfig{
		Managed:            true,
		Binary:             "/usr/sbin/stackd",
		Args:               []string{"--radio", "/dev/ttyACM0"},
		RestartOnFailure:   true,
		RestartDelay:       2 * time.Second,
		MaxRestartDelay:    time.Minute,
		MaxRestartAttempts: 7,
	}
	probe := &fakeProber{err: errors.New("timeout")}

	cfg := daemonConfig(dc, probe)

	if cfg.Name != "stackd" || cfg.Binary != dc.Binary || len(cfg.Args) != 2 {
		t.Errorf("process config = %+v", cfg)
	}
	if cfg.RestartDelay != 2*time.Second || cfg.MaxRestartDelay != time.Minute || cfg.MaxRestartAttempts != 7 {
		t.Errorf("restart settings = %v/%v/%d", cfg.RestartDelay, cfg.MaxRestartDelay, cfg.MaxRestartAttempts)
	}
	if cfg.HealthCheckFunc == nil {
		t.Fatal("HealthCheckFunc = nil")
	}
	if err := cfg.HealthCheckFunc(context.Background()); err == nil {
		t.Error("HealthCheckFunc() = nil, want probe error")
	}
	if probe.calls != 1 {
		t.Errorf("probe calls = %d, want 1", probe.calls)
	}

	if cfg := daemonConfig(dc, nil); cfg.HealthCheckFunc != nil {
		t.Error("HealthCheckFunc set without a probe")
	}
}
