package stackbus

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/tasklet"
)

type sinkRecorder struct {
	mu    sync.Mutex
	snaps []borderrouter.Snapshot
}

func (s *sinkRecorder) RecordSnapshot(snap borderrouter.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func testSnapshot() borderrouter.Snapshot {
	return borderrouter.Snapshot{
		At:       testEpoch,
		MeshMode: borderrouter.MeshThread,
		Backhaul: borderrouter.BackhaulEthernet,
		Connection: borderrouter.ConnectionState{
			MeshInterfaceID:     1,
			BackhaulInterfaceID: 0,
			BackhaulReady:       true,
			MeshReady:           true,
			DelegatedPrefix:     netip.MustParsePrefix("2001:db8::1/64"),
			DHCPServerActive:    true,
		},
		Retry: borderrouter.RetryStatus{State: borderrouter.RetryIdle, MaxAttempts: 3},
	}
}

func newTestReporter(t *testing.T, source *recordingHandler, mock clock.Clock, sinks ...SnapshotSink) (*StatusReporter, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	r, err := NewStatusReporter(StatusReporterOptions{
		Transport: ft,
		Caller:    &inlineLoop{},
		Source:    source,
		QoS:       1,
		SiteID:    "br-lab",
		Version:   "test",
		Interval:  20 * time.Second,
		Sinks:     sinks,
		Clock:     mock,
	})
	require.NoError(t, err)
	return r, ft
}

func TestNewStatusReporter_RequiresDependencies(t *testing.T) {
	_, err := NewStatusReporter(StatusReporterOptions{Transport: newFakeTransport()})
	assert.Error(t, err)
}

func TestStatusReporter_Report(t *testing.T) {
	routes := []borderrouter.RouteEntry{
		{Prefix: netip.MustParsePrefix("::/0"), NextHop: netip.MustParseAddr("fe80::1"), InterfaceID: 0},
	}
	source := &recordingHandler{snapshot: testSnapshot(), routes: routes}
	sink := &sinkRecorder{}
	r, ft := newTestReporter(t, source, clock.NewMock(), sink)

	msg, err := r.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "br-lab", msg.SiteID)
	assert.Equal(t, routes, msg.Routes)
	assert.Empty(t, msg.Error)

	pubs := ft.publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, "meshgate/router/state", pubs[0].Topic)
	assert.True(t, pubs[0].Retained)

	var decoded StateMessage
	require.NoError(t, json.Unmarshal(pubs[0].Payload, &decoded))
	assert.Equal(t, "test", decoded.Version)
	assert.Equal(t, testSnapshot().Connection, decoded.Snapshot.Connection)
	assert.Equal(t, borderrouter.RetryIdle, decoded.Snapshot.Retry.State)
	assert.Equal(t, routes, decoded.Routes)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, testSnapshot(), sink.snaps[0])
}

func TestStatusReporter_RoutingTableFailure(t *testing.T) {
	source := &recordingHandler{snapshot: testSnapshot(), routesErr: ErrTimeout}
	r, ft := newTestReporter(t, source, clock.NewMock())

	msg, err := r.Report(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg.Error, "timed out")
	assert.NotNil(t, msg.Routes)
	assert.Len(t, ft.publications(), 1)
}

func TestStatusReporter_LoopStopped(t *testing.T) {
	ft := newFakeTransport()
	r, err := NewStatusReporter(StatusReporterOptions{
		Transport: ft,
		Caller:    tasklet.New(1),
		Source:    &recordingHandler{},
	})
	require.NoError(t, err)

	_, err = r.Report(context.Background())
	assert.ErrorIs(t, err, tasklet.ErrStopped)
	assert.Empty(t, ft.publications())
}

func TestStatusReporter_PublishFailure(t *testing.T) {
	r, ft := newTestReporter(t, &recordingHandler{}, clock.NewMock())
	ft.publishErr = errors.New("broker gone")

	_, err := r.Report(context.Background())
	assert.ErrorContains(t, err, "broker gone")
}

func TestStatusReporter_PeriodicAndTriggered(t *testing.T) {
	mock := clock.NewMock()
	sink := &sinkRecorder{}
	r, ft := newTestReporter(t, &recordingHandler{snapshot: testSnapshot()}, mock, sink)

	r.Start(context.Background())
	defer r.Stop()

	ft.waitPublish(t)

	mock.Add(20 * time.Second)
	ft.waitPublish(t)

	r.ConnectionChanged(borderrouter.ConnectionEvent{Reason: borderrouter.ReasonMeshDown})
	ft.waitPublish(t)

	r.RetryChanged(borderrouter.RetryEvent{})
	ft.waitPublish(t)

	assert.Equal(t, 4, sink.count())
}

func TestStatusReporter_TriggerNeverBlocks(t *testing.T) {
	r, _ := newTestReporter(t, &recordingHandler{}, clock.NewMock())

	done := make(chan struct{})
	go func() {
		for range 10 {
			r.Trigger()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked")
	}
}

func TestStatusReporter_StopsWithContext(t *testing.T) {
	r, ft := newTestReporter(t, &recordingHandler{}, clock.NewMock())
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	ft.waitPublish(t)
	cancel()

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
