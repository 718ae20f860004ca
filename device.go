package kvat

import "fmt"

// wordSize is the device's program/read granularity. Every address and
// length crossing the BlockDevice boundary must be a multiple of it.
const wordSize = 4

// BlockDevice is the non-volatile memory capability KVAT is built on top of:
// a flat, word-aligned address space offering a read and a program primitive.
// The device itself (EEPROM driver, flash controller, ...) lives outside this
// module; KVAT only ever calls these two methods.
type BlockDevice interface {
	// Read fills dst (len(dst) bytes) from addr. Reads are assumed
	// infallible against a formatted device.
	Read(addr uint32, dst []byte)

	// Program writes src to addr. A non-nil error indicates a device
	// fault (busy, write-protected, verify mismatch, ...).
	Program(addr uint32, src []byte) error
}

func checkAligned(addr uint32, length int) error {
	if addr%wordSize != 0 {
		return fmt.Errorf("address %d is not %d-byte aligned", addr, wordSize)
	}
	if length%wordSize != 0 {
		return fmt.Errorf("length %d is not %d-byte aligned", length, wordSize)
	}
	return nil
}

// deviceRead validates alignment and reads into dst.
func deviceRead(dev BlockDevice, addr uint32, dst []byte) error {
	if err := checkAligned(addr, len(dst)); err != nil {
		return err
	}
	dev.Read(addr, dst)
	return nil
}

// deviceProgram validates alignment and programs src. A device fault is
// returned unchanged; callers wrap it in the Kind that fits their step.
func deviceProgram(dev BlockDevice, addr uint32, src []byte) error {
	if err := checkAligned(addr, len(src)); err != nil {
		return err
	}
	return dev.Program(addr, src)
}
