package kvat

// readEntry reads the single table slot i directly from the device. There is
// no caching layer here by design (spec §4.3): every read hits the device so
// post-crash state is observable.
func readEntry(dev BlockDevice, i int) (Entry, error) {
	buf := make([]byte, entrySize)
	if err := deviceRead(dev, entryAddr(i), buf); err != nil {
		return Entry{}, wrapError(KindTableError, "read entry", err)
	}
	var e Entry
	e.unmarshal(buf)
	return e, nil
}

// writeEntry programs the single table slot i.
func writeEntry(dev BlockDevice, i int, e Entry) error {
	if err := deviceProgram(dev, entryAddr(i), e.marshal()); err != nil {
		return wrapError(KindTableError, "write entry", err)
	}
	return nil
}
