// Package memdevice is a RAM-backed kvat.BlockDevice, the substitutable fake
// tests run KVAT against instead of real non-volatile media.
package memdevice

import "errors"

// Device is a flat byte array standing in for a word-aligned non-volatile
// device. It never faults on its own; FailOnNextProgramCall lets a test
// force a fault on a chosen future Program call to exercise KVAT's
// rollback and restore paths (spec §4.5 step 6, §4.7 rename step 3).
type Device struct {
	data   []byte
	failAt int // decremented on each Program call; the call that brings it to 0 fails instead of writing
}

// New returns a Device of the given size, zero-filled.
func New(size int) *Device {
	return &Device{data: make([]byte, size)}
}

func (d *Device) Read(addr uint32, dst []byte) {
	copy(dst, d.data[addr:addr+uint32(len(dst))])
}

func (d *Device) Program(addr uint32, src []byte) error {
	if d.failAt > 0 {
		d.failAt--
		if d.failAt == 0 {
			return errors.New("memdevice: injected program fault")
		}
	}
	copy(d.data[addr:addr+uint32(len(src))], src)
	return nil
}

// FailOnNextProgramCall arms a one-shot fault on the n-th Program call from
// now (n=1 means the very next call). Calls before it write normally.
func (d *Device) FailOnNextProgramCall(n int) {
	d.failAt = n
}

// Snapshot returns a copy of the device's full backing array, for
// inspecting raw on-media bytes from a test.
func (d *Device) Snapshot() []byte {
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}
