package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDevice struct{ closed bool }

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func TestBeginCommitForFh(t *testing.T) {
	r := New()
	h := r.Begin()
	defer h.Cleanup()

	var seen Device
	r.ForFh(h.Fh(), func(d Device) { seen = d })
	require.Nil(t, seen, "should not be visible while Opening")

	dev := &fakeDevice{}
	h.Commit(dev)

	r.ForFh(h.Fh(), func(d Device) { seen = d })
	require.Equal(t, Device(dev), seen)
}

func TestCleanupRemovesUncommittedHandle(t *testing.T) {
	r := New()
	h := r.Begin()
	h.Cleanup()

	var called bool
	r.ForFh(h.Fh(), func(d Device) { called = true })
	require.False(t, called)
}

func TestCleanupIsNoopAfterCommit(t *testing.T) {
	r := New()
	h := r.Begin()
	dev := &fakeDevice{}
	h.Commit(dev)
	h.Cleanup()

	var seen Device
	r.ForFh(h.Fh(), func(d Device) { seen = d })
	require.Equal(t, Device(dev), seen)
}

func TestReleaseRemovesAndReturnsDevice(t *testing.T) {
	r := New()
	h := r.Begin()
	dev := &fakeDevice{}
	h.Commit(dev)

	got, ok := r.Release(h.Fh())
	require.True(t, ok)
	require.Equal(t, Device(dev), got)

	_, ok = r.Release(h.Fh())
	require.False(t, ok)
}

func TestFhAllocationIsMonotonic(t *testing.T) {
	r := New()
	h1 := r.Begin()
	h2 := r.Begin()
	require.NotEqual(t, h1.Fh(), h2.Fh())
	require.Greater(t, h2.Fh(), h1.Fh())
}
