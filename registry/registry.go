// Package registry implements the client-side fh → device table of
// spec.md §4.6, grounded on original_source's
// src/virtdev/registry.rs: fh allocation and insertion are atomic, the
// Opening→Running transition happens once the opener succeeds, and a
// managed handle takes the place of Rust's Drop-based rollback so a
// failed open reliably removes its placeholder.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/jacobsa/cuse2net/internal/logging"
)

// Device is anything the registry can hold once a device has finished
// opening. Kept as a narrow interface rather than importing virtdev
// directly, so the registry has no dependency on the bridge
// implementation above it.
type Device interface {
	Close() error
}

// DeviceState is the sealed sum type of spec.md §4.6:
// fh ↦ {Opening, Running(Device)}.
type DeviceState interface {
	isDeviceState()
}

// Opening marks an fh whose opener goroutine has not yet finished.
type Opening struct{}

// Running holds the device once its opener has succeeded.
type Running struct {
	Device Device
}

func (Opening) isDeviceState() {}
func (Running) isDeviceState() {}

// Registry is the fh table shared by every RemoteDevice's opener and
// receiver goroutines.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint64]DeviceState
	nextFh  atomic.Uint64
}

// New returns an empty registry. The first fh it allocates is 1.
func New() *Registry {
	r := &Registry{devices: make(map[uint64]DeviceState)}
	r.nextFh.Store(1)
	return r
}

// Handle is the managed-handle RAII substitute: Begin returns one with
// the fh already inserted as Opening; the caller must either Commit a
// Device or let Cleanup (typically deferred) remove the placeholder.
// ConnID is a correlation id for log lines spanning the opener and
// receiver goroutines of the same device.
type Handle struct {
	registry  *Registry
	fh        uint64
	ConnID    xid.ID
	committed bool
}

// Begin allocates a new fh, inserts it as Opening, and returns a
// Handle the caller owns until Commit or Cleanup.
func (r *Registry) Begin() *Handle {
	fh := r.nextFh.Add(1) - 1

	r.mu.Lock()
	r.devices[fh] = Opening{}
	r.mu.Unlock()

	return &Handle{registry: r, fh: fh, ConnID: xid.New()}
}

// Fh returns the allocated file handle.
func (h *Handle) Fh() uint64 { return h.fh }

// Commit installs dev as the Running state for this handle's fh and
// disarms Cleanup.
func (h *Handle) Commit(dev Device) {
	h.registry.mu.Lock()
	h.registry.devices[h.fh] = Running{Device: dev}
	h.registry.mu.Unlock()
	h.committed = true
}

// Cleanup removes the Opening placeholder if Commit was never called.
// Safe to call unconditionally (typically via defer); a no-op after
// Commit.
func (h *Handle) Cleanup() {
	if h.committed {
		return
	}
	h.registry.mu.Lock()
	delete(h.registry.devices, h.fh)
	h.registry.mu.Unlock()
}

// ForFh looks up fh and, if it names a Running device, invokes fn with
// it. A missing fh or one still Opening is logged and otherwise
// ignored — mirroring original_source's for_fh, which only ever warns
// on a miss rather than propagating an error.
func (r *Registry) ForFh(fh uint64, fn func(Device)) {
	r.mu.RLock()
	state, ok := r.devices[fh]
	r.mu.RUnlock()

	if !ok {
		logging.Get().Warn().Uint64("fh", fh).Msg("no such device")
		return
	}

	switch s := state.(type) {
	case Running:
		fn(s.Device)
	case Opening:
		logging.Get().Warn().Uint64("fh", fh).Msg("device not ready yet")
	}
}

// Release removes fh from the registry and returns its Device, if it
// was Running. The caller is responsible for calling Close on it.
func (r *Registry) Release(fh uint64) (Device, bool) {
	r.mu.Lock()
	state, ok := r.devices[fh]
	delete(r.devices, fh)
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	running, ok := state.(Running)
	if !ok {
		return nil, false
	}
	return running.Device, true
}
