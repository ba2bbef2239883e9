package borderrouter

import (
	"context"
	"fmt"
)

// MeshMode selects the mesh protocol stack.
type MeshMode string

const (
	MeshLowpanND MeshMode = "lowpan-nd"
	MeshThread   MeshMode = "thread"
	MeshWiSUN    MeshMode = "wisun"
)

// BackhaulDriver selects the backhaul link driver.
type BackhaulDriver string

const (
	BackhaulEthernet BackhaulDriver = "eth"
	BackhaulSLIP     BackhaulDriver = "slip"
	BackhaulEMAC     BackhaulDriver = "emac"
	BackhaulCellular BackhaulDriver = "cell"
)

// ParseBackhaulDriver converts a configuration value into a BackhaulDriver.
func ParseBackhaulDriver(s string) (BackhaulDriver, error) {
	switch d := BackhaulDriver(s); d {
	case BackhaulEthernet, BackhaulSLIP, BackhaulEMAC, BackhaulCellular:
		return d, nil
	}
	return "", fmt.Errorf("%w: backhaul driver %q", ErrUnknownVariant, s)
}

// Kind returns the interface kind the driver is brought up as.
// Cellular modems run PPP; every other driver presents an Ethernet-like link.
func (d BackhaulDriver) Kind() InterfaceKind {
	if d == BackhaulCellular {
		return KindPPP
	}
	return KindEthernet
}

// MeshSettings are the radio parameters shared by all mesh profiles.
type MeshSettings struct {
	DriverID    DriverID
	NetworkName string
	PANID       int
	Channel     int
}

// MeshProfile is the capability contract a mesh mode implements.
type MeshProfile interface {
	Mode() MeshMode

	// BringUpParams builds the stack request for the mesh interface. id is
	// the existing interface or Unset.
	BringUpParams(id InterfaceID) BringUpParams

	// AwaitsBackhaul reports whether mesh bring-up waits for the backhaul
	// bootstrap.
	AwaitsBackhaul() bool

	// InterfacesKnown runs once both interface IDs are set.
	InterfacesKnown(ctx context.Context, stack Stack, mesh, backhaul InterfaceID) error
}

// NewMeshProfile returns the profile for mode.
func NewMeshProfile(mode string, settings MeshSettings) (MeshProfile, error) {
	base := meshBase{settings: settings}
	switch MeshMode(mode) {
	case MeshLowpanND:
		return lowpanNDProfile{base}, nil
	case MeshThread:
		return threadProfile{base}, nil
	case MeshWiSUN:
		return wisunProfile{base}, nil
	}
	return nil, fmt.Errorf("%w: mesh mode %q", ErrUnknownVariant, mode)
}

type meshBase struct {
	settings MeshSettings
}

func (b meshBase) params(mode MeshMode, name string, id InterfaceID) BringUpParams {
	return BringUpParams{
		InterfaceID: id,
		DriverID:    b.settings.DriverID,
		Name:        name,
		MeshMode:    mode,
		NetworkName: b.settings.NetworkName,
		PANID:       b.settings.PANID,
		Channel:     b.settings.Channel,
	}
}

// lowpanNDProfile runs 6LoWPAN-ND with an RPL root. The RPL DODAG needs the
// backhaul prefix, so the mesh is only started after backhaul bootstrap.
type lowpanNDProfile struct{ meshBase }

func (lowpanNDProfile) Mode() MeshMode { return MeshLowpanND }

func (p lowpanNDProfile) BringUpParams(id InterfaceID) BringUpParams {
	return p.params(MeshLowpanND, "mesh0", id)
}

func (lowpanNDProfile) AwaitsBackhaul() bool { return true }

func (lowpanNDProfile) InterfacesKnown(context.Context, Stack, InterfaceID, InterfaceID) error {
	return nil
}

type threadProfile struct{ meshBase }

func (threadProfile) Mode() MeshMode { return MeshThread }

func (p threadProfile) BringUpParams(id InterfaceID) BringUpParams {
	return p.params(MeshThread, "ThreadInterface", id)
}

func (threadProfile) AwaitsBackhaul() bool { return false }

func (threadProfile) InterfacesKnown(context.Context, Stack, InterfaceID, InterfaceID) error {
	return nil
}

// wisunProfile starts the Wi-SUN backbone border router as soon as both
// interfaces exist.
type wisunProfile struct{ meshBase }

func (wisunProfile) Mode() MeshMode { return MeshWiSUN }

func (p wisunProfile) BringUpParams(id InterfaceID) BringUpParams {
	return p.params(MeshWiSUN, "WisunInterface", id)
}

func (wisunProfile) AwaitsBackhaul() bool { return false }

func (wisunProfile) InterfacesKnown(ctx context.Context, stack Stack, mesh, backhaul InterfaceID) error {
	if err := stack.StartBackbone(ctx, mesh, backhaul); err != nil {
		return fmt.Errorf("starting wi-sun backbone: %w", err)
	}
	return nil
}
