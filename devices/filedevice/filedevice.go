// Package filedevice is a real persistent kvat.BlockDevice backed by an
// mmapped file, for applications that want KVAT's media to survive past a
// single process.
package filedevice

import (
	"fmt"
	"os"

	"github.com/Repixen/KVAT/internal/sys"
)

// Device mmaps a fixed-size file and serves kvat.BlockDevice reads/programs
// directly against the mapping. Unlike the teacher's growable page storage,
// KVAT's address space is fixed once Format has run, so there is no grow
// path here — only Open (create-or-attach) and Close.
type Device struct {
	file *os.File
	data []byte
}

// Open creates path if it does not exist, or attaches to it if it does,
// ensures it is at least size bytes, and mmaps it.
func Open(path string, size uint64) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filedevice: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("filedevice: stat %s: %w", path, err)
	}
	if uint64(info.Size()) < size {
		if err := file.Truncate(int64(size)); err != nil {
			file.Close()
			return nil, fmt.Errorf("filedevice: truncate %s: %w", path, err)
		}
	}

	data, err := sys.MMap(file, size)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("filedevice: mmap %s: %w", path, err)
	}

	return &Device{file: file, data: data}, nil
}

func (d *Device) Read(addr uint32, dst []byte) {
	copy(dst, d.data[addr:addr+uint32(len(dst))])
}

func (d *Device) Program(addr uint32, src []byte) error {
	copy(d.data[addr:addr+uint32(len(src))], src)
	return nil
}

// Close unmaps the file and closes its handle.
func (d *Device) Close() error {
	if err := sys.MUnmap(d.file, d.data); err != nil {
		d.file.Close()
		return fmt.Errorf("filedevice: munmap: %w", err)
	}
	return d.file.Close()
}
