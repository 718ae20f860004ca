//go:build windows

package sys

import (
	"golang.org/x/sys/windows"
	"os"
	"unsafe"
)

// Windows API constants not defined in golang.org/x/sys/windows
const (
	FILE_MAP_ALL_ACCESS = 0x000F001F // Combines all mapping permissions (read, write, execute, etc.)
)

// MMap maps a file into memory, similar to Unix mmap.
// It attempts to map the file with read and write permissions.
func MMap(file *os.File, length uint64) (dat []byte, err error) {
	// Create file mapping object
	hFile := windows.Handle(file.Fd())
	hMap, err := windows.CreateFileMapping(
		hFile,
		nil,
		windows.PAGE_READWRITE,
		uint32(length>>32), // High-order 32 bits of size
		uint32(length),     // Low-order 32 bits of size
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Map the file into memory
	addr, err := windows.MapViewOfFile(
		hMap,
		FILE_MAP_ALL_ACCESS,
		0, // File offset high
		0, // File offset low
		uintptr(length),
	)
	if err != nil {
		windows.CloseHandle(hMap)
		return nil, err
	}

	// Expose the mapped view as a byte slice of exactly length bytes
	dat = (*[1 << 48]byte)(unsafe.Pointer(addr))[:length:length]

	// close the mapping handle (Windows keeps it open until all views are unmapped)
	windows.CloseHandle(hMap)

	return dat, nil
}

// MUnmap unmaps the memory region, similar to Unix munmap.
func MUnmap(file *os.File, dat []byte) (err error) {
	if len(dat) == 0 {
		return nil
	}
	// Unmap the view
	addr := uintptr(unsafe.Pointer(&dat[0]))
	return windows.UnmapViewOfFile(addr)
}
