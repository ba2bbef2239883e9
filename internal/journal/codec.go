package journal

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/meshgate/internal/borderrouter"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR decoder mode: %v", err))
	}
}

// connectionRecord is the stored form of borderrouter.ConnectionState.
type connectionRecord struct {
	MeshInterfaceID     int8   `cbor:"1,keyasint"`
	BackhaulInterfaceID int8   `cbor:"2,keyasint"`
	BackhaulReady       bool   `cbor:"3,keyasint"`
	MeshReady           bool   `cbor:"4,keyasint"`
	Prefix              []byte `cbor:"5,keyasint,omitempty"`
	PrefixBits          int    `cbor:"6,keyasint,omitempty"`
	DHCPServerActive    bool   `cbor:"7,keyasint"`
	ShutdownPending     bool   `cbor:"8,keyasint"`
}

type retryRecord struct {
	State       uint8 `cbor:"1,keyasint"`
	Attempts    int   `cbor:"2,keyasint"`
	Reconnects  int   `cbor:"3,keyasint"`
	BackoffMS   int64 `cbor:"4,keyasint"`
	MaxAttempts int   `cbor:"5,keyasint"`
}

type retryEventRecord struct {
	Status  retryRecord `cbor:"1,keyasint"`
	DelayMS int64       `cbor:"2,keyasint"`
	GaveUp  bool        `cbor:"3,keyasint,omitempty"`
}

type snapshotRecord struct {
	At         time.Time        `cbor:"1,keyasint"`
	MeshMode   string           `cbor:"2,keyasint"`
	Backhaul   string           `cbor:"3,keyasint"`
	Connection connectionRecord `cbor:"4,keyasint"`
	Retry      retryRecord      `cbor:"5,keyasint"`
	BringingUp bool             `cbor:"6,keyasint,omitempty"`
}

func toConnectionRecord(s borderrouter.ConnectionState) connectionRecord {
	rec := connectionRecord{
		MeshInterfaceID:     int8(s.MeshInterfaceID),
		BackhaulInterfaceID: int8(s.BackhaulInterfaceID),
		BackhaulReady:       s.BackhaulReady,
		MeshReady:           s.MeshReady,
		DHCPServerActive:    s.DHCPServerActive,
		ShutdownPending:     s.ShutdownPending,
	}
	if s.DelegatedPrefix.IsValid() {
		addr := s.DelegatedPrefix.Addr().As16()
		rec.Prefix = addr[:]
		rec.PrefixBits = s.DelegatedPrefix.Bits()
	}
	return rec
}

func (r connectionRecord) state() (borderrouter.ConnectionState, error) {
	s := borderrouter.ConnectionState{
		MeshInterfaceID:     borderrouter.InterfaceID(r.MeshInterfaceID),
		BackhaulInterfaceID: borderrouter.InterfaceID(r.BackhaulInterfaceID),
		BackhaulReady:       r.BackhaulReady,
		MeshReady:           r.MeshReady,
		DHCPServerActive:    r.DHCPServerActive,
		ShutdownPending:     r.ShutdownPending,
	}
	if len(r.Prefix) == 0 {
		return s, nil
	}
	addr, ok := netip.AddrFromSlice(r.Prefix)
	if !ok || !addr.Is6() {
		return s, fmt.Errorf("%w: prefix of %d bytes", ErrCorruptPayload, len(r.Prefix))
	}
	if r.PrefixBits < 0 || r.PrefixBits > 128 {
		return s, fmt.Errorf("%w: prefix length %d", ErrCorruptPayload, r.PrefixBits)
	}
	s.DelegatedPrefix = netip.PrefixFrom(addr, r.PrefixBits)
	return s, nil
}

func toRetryRecord(s borderrouter.RetryStatus) retryRecord {
	return retryRecord{
		State:       uint8(s.State),
		Attempts:    s.Attempts,
		Reconnects:  s.Reconnects,
		BackoffMS:   s.Backoff.Milliseconds(),
		MaxAttempts: s.MaxAttempts,
	}
}

func (r retryRecord) status() borderrouter.RetryStatus {
	return borderrouter.RetryStatus{
		State:       borderrouter.RetryState(r.State),
		Attempts:    r.Attempts,
		Reconnects:  r.Reconnects,
		Backoff:     time.Duration(r.BackoffMS) * time.Millisecond,
		MaxAttempts: r.MaxAttempts,
	}
}

// EncodeConnection encodes a connection state as an event payload.
func EncodeConnection(s borderrouter.ConnectionState) ([]byte, error) {
	return encMode.Marshal(toConnectionRecord(s))
}

// DecodeConnection decodes a payload written by EncodeConnection.
func DecodeConnection(data []byte) (borderrouter.ConnectionState, error) {
	var rec connectionRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return borderrouter.ConnectionState{}, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	return rec.state()
}

// EncodeRetry encodes a retry transition as an event payload.
func EncodeRetry(ev borderrouter.RetryEvent) ([]byte, error) {
	return encMode.Marshal(retryEventRecord{
		Status:  toRetryRecord(ev.Status),
		DelayMS: ev.Delay.Milliseconds(),
		GaveUp:  ev.GaveUp,
	})
}

// DecodeRetry decodes a payload written by EncodeRetry. The event time is
// not part of the payload.
func DecodeRetry(data []byte) (borderrouter.RetryEvent, error) {
	var rec retryEventRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return borderrouter.RetryEvent{}, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	return borderrouter.RetryEvent{
		Status: rec.Status.status(),
		Delay:  time.Duration(rec.DelayMS) * time.Millisecond,
		GaveUp: rec.GaveUp,
	}, nil
}

func encodeSnapshot(s borderrouter.Snapshot) ([]byte, error) {
	return encMode.Marshal(snapshotRecord{
		At:         s.At.UTC(),
		MeshMode:   string(s.MeshMode),
		Backhaul:   string(s.Backhaul),
		Connection: toConnectionRecord(s.Connection),
		Retry:      toRetryRecord(s.Retry),
		BringingUp: s.MeshBringUpOngoing,
	})
}

func decodeSnapshot(data []byte) (borderrouter.Snapshot, error) {
	var rec snapshotRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return borderrouter.Snapshot{}, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	conn, err := rec.Connection.state()
	if err != nil {
		return borderrouter.Snapshot{}, err
	}
	return borderrouter.Snapshot{
		At:                 rec.At,
		MeshMode:           borderrouter.MeshMode(rec.MeshMode),
		Backhaul:           borderrouter.BackhaulDriver(rec.Backhaul),
		Connection:         conn,
		Retry:              rec.Retry.status(),
		MeshBringUpOngoing: rec.BringingUp,
	}, nil
}
