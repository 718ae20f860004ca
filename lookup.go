package kvat

import "bytes"

// stringKeyStdLen is the preallocated stack buffer size used while scanning
// keys during lookup (spec §4.6). Keys that don't fit spill to a heap
// allocation inside fetch, which is simply left for the garbage collector
// once the comparison below is done.
const stringKeyStdLen = 16

// lookupByKey scans active entries starting at startSlot (spec §4.6),
// returning the first matching slot, or 0 if none matched. key is the raw
// key bytes without a trailing NUL.
func lookupByKey(dev BlockDevice, header *Header, key []byte, isPartialKey bool, startSlot int) (int, error) {
	keySize := len(key)

	for slot := startSlot; slot < int(header.PageCount); slot++ {
		entry, err := readEntry(dev, slot)
		if err != nil {
			return 0, err
		}
		if !entry.isActive() {
			continue
		}

		var prealloc [stringKeyStdLen]byte
		fetched, _, err := fetch(dev, header, entry.KeyPage, entry.isKeyMultipage(), prealloc[:], false)
		if err != nil {
			return 0, err
		}
		fetchedKey := fetched[:nulIndex(fetched)]

		var match bool
		if isPartialKey {
			match = keySize <= len(fetchedKey) && bytes.Equal(key, fetchedKey[:keySize])
		} else {
			match = keySize == len(fetchedKey) && bytes.Equal(key, fetchedKey)
		}
		if match {
			return slot, nil
		}
	}
	return 0, nil
}

// nulIndex returns the index of the first NUL byte in b, or len(b) if none.
func nulIndex(b []byte) int {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return i
	}
	return len(b)
}
