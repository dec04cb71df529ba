package xdpbind

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/google/uuid"
)

// Mode is the packet I/O mode a binding services. There is at most one binding per mode on a NIC.
type Mode uint8

const (
	ModeGeneric Mode = iota
	ModeNative

	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeGeneric:
		return "generic"
	case ModeNative:
		return "native"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "generic":
		return ModeGeneric, nil
	case "native":
		return ModeNative, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

type HookLayer uint8
type HookDirection uint8
type HookSubLayer uint8

const (
	HookL2 HookLayer = iota
)

const (
	HookRx HookDirection = iota
	HookTx
)

const (
	HookInspect HookSubLayer = iota
	HookInject
)

// HookID identifies one packet processing insertion point.
type HookID struct {
	Layer     HookLayer
	Direction HookDirection
	SubLayer  HookSubLayer
}

func (h HookID) String() string {
	return fmt.Sprintf("%d/%d/%d", h.Layer, h.Direction, h.SubLayer)
}

const (
	CapabilitiesExRevision1 = 1

	// SizeofCapabilitiesExRevision1 is the encoded header size of revision 1
	SizeofCapabilitiesExRevision1 = 28

	// SizeofVersion is the encoded size of one driver API version entry
	SizeofVersion = 12
)

// CapabilitiesEx is the header of the extended capability blob a provider supplies for each interface.
// The driver API versions live DriverAPIVersionsOffset bytes from the start of the blob.
type CapabilitiesEx struct {
	Revision                uint8
	Size                    uint16
	InstanceID              uuid.UUID
	DriverAPIVersionCount   uint32
	DriverAPIVersionsOffset uint32
}

// MarshalBinary encodes the header only, little endian.
func (h CapabilitiesEx) MarshalBinary() ([]byte, error) {
	b := make([]byte, SizeofCapabilitiesExRevision1)
	b[0] = h.Revision
	binary.LittleEndian.PutUint16(b[2:4], h.Size)
	copy(b[4:20], h.InstanceID[:])
	binary.LittleEndian.PutUint32(b[20:24], h.DriverAPIVersionCount)
	binary.LittleEndian.PutUint32(b[24:28], h.DriverAPIVersionsOffset)
	return b, nil
}

// NewCapabilitiesEx builds a revision 1 blob advertising versions in preference order.
func NewCapabilitiesEx(instance uuid.UUID, versions ...Version) []byte {
	h := CapabilitiesEx{
		Revision:                CapabilitiesExRevision1,
		Size:                    SizeofCapabilitiesExRevision1,
		InstanceID:              instance,
		DriverAPIVersionCount:   uint32(len(versions)),
		DriverAPIVersionsOffset: SizeofCapabilitiesExRevision1,
	}

	b, _ := h.MarshalBinary()
	for _, v := range versions {
		b = binary.LittleEndian.AppendUint32(b, v.Major)
		b = binary.LittleEndian.AppendUint32(b, v.Minor)
		b = binary.LittleEndian.AppendUint32(b, v.Patch)
	}
	return b
}

// InterfaceCapabilities is what a provider advertises when adding one binding.
type InterfaceCapabilities struct {
	Mode  Mode
	Hooks []HookID

	// CapabilitiesEx is the raw extended capability blob and CapabilitiesSize its declared total size.
	CapabilitiesEx   []byte
	CapabilitiesSize uint32
}

// NewInterfaceCapabilities is a convenience for providers that build the blob with NewCapabilitiesEx.
func NewInterfaceCapabilities(mode Mode, hooks []HookID, instance uuid.UUID, versions ...Version) InterfaceCapabilities {
	blob := NewCapabilitiesEx(instance, versions...)
	return InterfaceCapabilities{
		Mode:             mode,
		Hooks:            hooks,
		CapabilitiesEx:   blob,
		CapabilitiesSize: uint32(len(blob)),
	}
}

// Capabilities is the validated, immutable copy a binding keeps.
type Capabilities struct {
	Mode              Mode
	Hooks             []HookID
	InstanceID        uuid.UUID
	DriverAPIVersions []Version
}

// SupportsHookID is an exact layer, direction and sublayer match.
func (c *Capabilities) SupportsHookID(target HookID) bool {
	for _, candidate := range c.Hooks {
		if candidate == target {
			return true
		}
	}
	return false
}

func (c *Capabilities) supportsHookIDs(targets []HookID) bool {
	for _, target := range targets {
		if !c.SupportsHookID(target) {
			return false
		}
	}
	return true
}

// validateCapabilities checks the blob bounds before anything is read from the version table.
// Every failure is ErrNotSupported.
func validateCapabilities(ic *InterfaceCapabilities) (Capabilities, error) {
	if ic.Mode >= modeCount {
		return Capabilities{}, fmt.Errorf("invalid mode %d: %w", ic.Mode, ErrNotSupported)
	}

	blob := ic.CapabilitiesEx
	if len(blob) < SizeofCapabilitiesExRevision1 {
		return Capabilities{}, fmt.Errorf("capabilities blob too short: %w", ErrNotSupported)
	}

	h := CapabilitiesEx{
		Revision:                blob[0],
		Size:                    binary.LittleEndian.Uint16(blob[2:4]),
		DriverAPIVersionCount:   binary.LittleEndian.Uint32(blob[20:24]),
		DriverAPIVersionsOffset: binary.LittleEndian.Uint32(blob[24:28]),
	}
	copy(h.InstanceID[:], blob[4:20])

	if h.Revision < CapabilitiesExRevision1 || h.Size < SizeofCapabilitiesExRevision1 {
		return Capabilities{}, fmt.Errorf("invalid capabilities revision %d size %d: %w", h.Revision, h.Size, ErrNotSupported)
	}

	hi, tableSize := bits.Mul32(h.DriverAPIVersionCount, SizeofVersion)
	if hi != 0 {
		return Capabilities{}, fmt.Errorf("driver API version count %d overflows: %w", h.DriverAPIVersionCount, ErrNotSupported)
	}

	end, carry := bits.Add32(h.DriverAPIVersionsOffset, tableSize, 0)
	if carry != 0 {
		return Capabilities{}, fmt.Errorf("driver API version table offset %d overflows: %w", h.DriverAPIVersionsOffset, ErrNotSupported)
	}

	if ic.CapabilitiesSize < end || uint64(len(blob)) < uint64(end) {
		return Capabilities{}, fmt.Errorf("driver API version table ends at %d beyond capabilities size %d: %w",
			end, ic.CapabilitiesSize, ErrNotSupported)
	}

	versions := make([]Version, h.DriverAPIVersionCount)
	table := blob[h.DriverAPIVersionsOffset:end]
	for i := range versions {
		e := table[i*SizeofVersion:]
		versions[i] = Version{
			Major: binary.LittleEndian.Uint32(e[0:4]),
			Minor: binary.LittleEndian.Uint32(e[4:8]),
			Patch: binary.LittleEndian.Uint32(e[8:12]),
		}
	}

	return Capabilities{
		Mode:              ic.Mode,
		Hooks:             append([]HookID(nil), ic.Hooks...),
		InstanceID:        h.InstanceID,
		DriverAPIVersions: versions,
	}, nil
}
