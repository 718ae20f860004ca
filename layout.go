package kvat

import "encoding/binary"

// FormatID is the magic/version marker written into the header by Format.
// A mismatch on Open triggers a full reformat.
const FormatID uint16 = 0x2043 // "KV" in the original's numbering scheme, kept arbitrary

// headerSize is the fixed size in bytes of the on-media Header (offsets 0..15
// per spec §6). It is itself a multiple of 4, so the entry table that follows
// it is naturally word-aligned.
const headerSize = 16

// entrySize is the fixed size in bytes of a single Entry record.
const entrySize = 4

// Metadata bitfield, LSB-first (spec §3).
const (
	metaActive          byte = 1 << 0
	metaOpen            byte = 1 << 1
	metaKeyMultipage    byte = 1 << 2
	metaValueMultipage  byte = 1 << 3
	metaKeyFormatMask   byte = 0x30 // bits 4-5
	metaKeyFormatString byte = 0x00
)

// pageNumber is the on-media page identifier: a single byte, 0 reserved/null.
type pageNumber = uint8

// Header is the fixed-size structure stored at storage offset 0.
type Header struct {
	FormatID         uint16
	PageSize         uint32
	PageCount        uint8
	PageBeginAddress uint32
}

func (h *Header) marshal() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.FormatID)
	binary.LittleEndian.PutUint32(buf[4:8], h.PageSize)
	buf[8] = h.PageCount
	binary.LittleEndian.PutUint32(buf[12:16], h.PageBeginAddress)
	return buf
}

func (h *Header) unmarshal(buf []byte) {
	h.FormatID = binary.LittleEndian.Uint16(buf[0:2])
	h.PageSize = binary.LittleEndian.Uint32(buf[4:8])
	h.PageCount = buf[8]
	h.PageBeginAddress = binary.LittleEndian.Uint32(buf[12:16])
}

// Entry is a single 4-byte record in the entry table (spec §3).
type Entry struct {
	Metadata  byte
	KeyPage   pageNumber
	ValuePage pageNumber
	Remains   byte
}

func (e Entry) marshal() []byte {
	return []byte{e.Metadata, e.KeyPage, e.ValuePage, e.Remains}
}

func (e *Entry) unmarshal(buf []byte) {
	e.Metadata = buf[0]
	e.KeyPage = buf[1]
	e.ValuePage = buf[2]
	e.Remains = buf[3]
}

func (e Entry) isActive() bool         { return e.Metadata&metaActive != 0 }
func (e Entry) isOpen() bool           { return e.Metadata&metaOpen != 0 }
func (e Entry) isKeyMultipage() bool   { return e.Metadata&metaKeyMultipage != 0 }
func (e Entry) isValueMultipage() bool { return e.Metadata&metaValueMultipage != 0 }

// entryAddr returns the absolute address of table slot i.
func entryAddr(i int) uint32 {
	return headerSize + entrySize*uint32(i)
}

// pageAddr returns the absolute address of page p (p != 0).
func pageAddr(h *Header, p pageNumber) uint32 {
	if p == 0 {
		return 0
	}
	return h.PageBeginAddress + h.PageSize*uint32(p)
}

// naturalPage0Addr is the address page 0 occupies when the layout is derived
// purely from headerSize and pageCount, used only during Format; afterwards
// the authoritative value is read back from the header.
func naturalPage0Addr(pageCount int) uint32 {
	return headerSize + entrySize*uint32(pageCount)
}
