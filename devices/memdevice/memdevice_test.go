package memdevice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadProgramRoundTrip(t *testing.T) {
	d := New(32)

	require.NoError(t, d.Program(4, []byte{1, 2, 3, 4}))

	buf := make([]byte, 4)
	d.Read(4, buf)
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestFailOnNextProgramCall(t *testing.T) {
	d := New(32)
	d.FailOnNextProgramCall(2)

	require.NoError(t, d.Program(0, []byte{1, 1, 1, 1}))
	err := d.Program(4, []byte{2, 2, 2, 2})
	require.Error(t, err)

	buf := make([]byte, 4)
	d.Read(4, buf)
	require.Equal(t, []byte{0, 0, 0, 0}, buf, "a failed Program call must not write")

	require.NoError(t, d.Program(4, []byte{2, 2, 2, 2}), "the fault is one-shot")
}

func TestSnapshot(t *testing.T) {
	d := New(8)
	require.NoError(t, d.Program(0, []byte{9, 9, 9, 9}))

	snap := d.Snapshot()
	require.Equal(t, []byte{9, 9, 9, 9, 0, 0, 0, 0}, snap)

	// Mutating the snapshot must not affect the device.
	snap[0] = 0
	buf := make([]byte, 4)
	d.Read(0, buf)
	require.Equal(t, []byte{9, 9, 9, 9}, buf)
}
