// Package devicemon implements the device-health observer hook: writers
// register as weak members of a monitor's set and are notified if their
// mount degrades or recovers.
package devicemon

import "sync"

// Status describes a disk's health as reported by an external disk-health
// prober (out of scope here — see spec §1).
type Status int

const (
	Healthy Status = iota
	Failed
	HighUsage
)

func (s Status) String() string {
	switch s {
	case Failed:
		return "failed"
	case HighUsage:
		return "high-usage"
	default:
		return "healthy"
	}
}

// Observer is implemented by anything that wants device-health callbacks.
// The monitor holds bare membership — it never owns an observer's
// lifetime, mirroring the writer-vs-device-monitor relation in spec §3.
type Observer interface {
	NotifyDeviceError(mount string, status Status)
	NotifyHealthy(mount string)
	NotifyHighDiskUsage(mount string)
}

// Monitor tracks a set of observers per mount and fans out callbacks to
// them. Registration/unregistration is guarded by the monitor's own lock,
// independent of any observer's internal locking.
type Monitor struct {
	mu        sync.Mutex
	observers map[string]map[Observer]struct{}
}

// New returns an empty Monitor.
func New() *Monitor {
	return &Monitor{observers: make(map[string]map[Observer]struct{})}
}

// Register adds obs as an observer of mount. Idempotent.
func (m *Monitor) Register(mount string, obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.observers[mount]
	if !ok {
		set = make(map[Observer]struct{})
		m.observers[mount] = set
	}
	set[obs] = struct{}{}
}

// Unregister removes obs from mount's observer set. Idempotent; safe to
// call even if obs was never registered.
func (m *Monitor) Unregister(mount string, obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.observers[mount]; ok {
		delete(set, obs)
		if len(set) == 0 {
			delete(m.observers, mount)
		}
	}
}

// NotifyDeviceError fans out a device error to every observer currently
// registered on mount. Observers may concurrently be mid-write or mid-
// close; that is the observer's responsibility to tolerate.
func (m *Monitor) NotifyDeviceError(mount string, status Status) {
	for _, obs := range m.snapshot(mount) {
		obs.NotifyDeviceError(mount, status)
	}
}

// NotifyHealthy fans out a recovery signal. No-op at this layer beyond
// delivering the callback.
func (m *Monitor) NotifyHealthy(mount string) {
	for _, obs := range m.snapshot(mount) {
		obs.NotifyHealthy(mount)
	}
}

// NotifyHighDiskUsage fans out a high-usage warning. No-op at this layer
// beyond delivering the callback.
func (m *Monitor) NotifyHighDiskUsage(mount string) {
	for _, obs := range m.snapshot(mount) {
		obs.NotifyHighDiskUsage(mount)
	}
}

func (m *Monitor) snapshot(mount string) []Observer {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.observers[mount]
	out := make([]Observer, 0, len(set))
	for obs := range set {
		out = append(out, obs)
	}
	return out
}
