package devicemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingObserver struct {
	errs    []Status
	healthy int
	usage   int
}

func (r *recordingObserver) NotifyDeviceError(_ string, status Status) { r.errs = append(r.errs, status) }
func (r *recordingObserver) NotifyHealthy(_ string)                    { r.healthy++ }
func (r *recordingObserver) NotifyHighDiskUsage(_ string)              { r.usage++ }

func TestMonitor_RegisterUnregister(t *testing.T) {
	t.Run("DeliversToRegisteredObserver", func(t *testing.T) {
		m := New()
		obs := &recordingObserver{}
		m.Register("/mnt/d1", obs)

		m.NotifyDeviceError("/mnt/d1", Failed)
		assert.Equal(t, []Status{Failed}, obs.errs)
	})

	t.Run("UnregisteredObserverReceivesNothing", func(t *testing.T) {
		m := New()
		obs := &recordingObserver{}
		m.Register("/mnt/d1", obs)
		m.Unregister("/mnt/d1", obs)

		m.NotifyDeviceError("/mnt/d1", Failed)
		assert.Empty(t, obs.errs)
	})

	t.Run("UnregisterIsIdempotent", func(t *testing.T) {
		m := New()
		obs := &recordingObserver{}
		m.Unregister("/mnt/d1", obs) // never registered
		m.Register("/mnt/d1", obs)
		m.Unregister("/mnt/d1", obs)
		m.Unregister("/mnt/d1", obs)
		m.NotifyDeviceError("/mnt/d1", Failed)
		assert.Empty(t, obs.errs)
	})

	t.Run("OnlyTargetMountIsNotified", func(t *testing.T) {
		m := New()
		obsA := &recordingObserver{}
		obsB := &recordingObserver{}
		m.Register("/mnt/a", obsA)
		m.Register("/mnt/b", obsB)

		m.NotifyDeviceError("/mnt/a", Failed)
		assert.Len(t, obsA.errs, 1)
		assert.Empty(t, obsB.errs)
	})
}
