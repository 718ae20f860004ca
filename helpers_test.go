package kvat

import (
	"testing"

	"github.com/Repixen/KVAT/devices/memdevice"
)

// newTestDevice returns a RAM-backed device sized for pageCount pages of
// pageSize bytes, plus header and entry table space.
func newTestDevice(t *testing.T, pageSize uint32, pageCount int) *memdevice.Device {
	t.Helper()
	size := headerSize + entrySize*pageCount + int(pageSize)*pageCount
	return memdevice.New(size)
}

// testHeader builds the Header a device returned by newTestDevice would
// have after Format, without going through Format itself.
func testHeader(pageSize uint32, pageCount int) Header {
	return Header{
		FormatID:         FormatID,
		PageSize:         pageSize,
		PageCount:        uint8(pageCount),
		PageBeginAddress: naturalPage0Addr(pageCount),
	}
}

// writePageHeadByte sets the next-pointer byte at the head of page p,
// for constructing chains directly in tests.
func writePageHeadByte(t *testing.T, dev BlockDevice, header *Header, p pageNumber, next pageNumber) {
	t.Helper()
	buf := make([]byte, wordSize)
	dev.Read(pageAddr(header, p), buf)
	buf[0] = next
	if err := dev.Program(pageAddr(header, p), buf); err != nil {
		t.Fatalf("writePageHeadByte: %v", err)
	}
}
