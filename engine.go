package kvat

// SearchInitialState is the sentinel a caller passes as the starting state
// for the first call to Search (spec §4.7's INITIAL_ID).
const SearchInitialState = 1

// Options configures Format/Open. FormatID defaults to the package's
// FormatID constant when left zero.
type Options struct {
	PageSize  uint32
	PageCount uint8
	FormatID  uint16
}

func (o Options) formatID() uint16 {
	if o.FormatID == 0 {
		return FormatID
	}
	return o.FormatID
}

// Engine is the sole owner of the mutable state a KVAT instance needs: the
// device handle, the in-RAM header copy, and the occupancy bitmap (spec §9's
// "bundle into a single engine struct" re-architecture note). No field is
// ever handed out to callers.
type Engine struct {
	dev         BlockDevice
	header      Header
	bitmap      *occupancyBitmap
	initialized bool
	orphans     []int
}

// Open constructs an Engine over dev and initializes it (spec §4.7 init),
// formatting the device from scratch if its header's format_id doesn't
// match opts's.
func Open(dev BlockDevice, opts Options) (*Engine, error) {
	e := &Engine{dev: dev}
	if err := e.init(opts); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(opts Options) error {
	buf := make([]byte, headerSize)
	if err := deviceRead(e.dev, 0, buf); err != nil {
		return wrapError(KindStorageFault, "read header", err)
	}
	var h Header
	h.unmarshal(buf)

	if h.FormatID != opts.formatID() {
		if err := e.format(opts); err != nil {
			return err
		}
	} else {
		e.header = h
	}

	bitmap := newOccupancyBitmap(int(e.header.PageCount))
	bitmap.mark(0, true)
	var orphans []int
	for i := 1; i < int(e.header.PageCount); i++ {
		entry, err := readEntry(e.dev, i)
		if err != nil {
			return wrapError(KindRecordFault, "build occupancy bitmap", err)
		}
		if entry.isOpen() && !entry.isActive() {
			orphans = append(orphans, i)
		}
		if !entry.isActive() {
			continue
		}
		keyCycled, err := markChain(e.dev, &e.header, bitmap, entry.KeyPage, true, entry.isKeyMultipage())
		if err != nil {
			return wrapError(KindRecordFault, "build occupancy bitmap", err)
		}
		valueCycled, err := markChain(e.dev, &e.header, bitmap, entry.ValuePage, true, entry.isValueMultipage())
		if err != nil {
			return wrapError(KindRecordFault, "build occupancy bitmap", err)
		}
		if keyCycled || valueCycled {
			return newError(KindRecordFault, "active entry's chain cycles back on itself")
		}
	}

	e.bitmap = bitmap
	e.orphans = orphans
	e.initialized = true
	return nil
}

// Format writes a fresh header and a zeroed entry table (spec §4.7 format).
// Forbidden once the engine is initialized.
func (e *Engine) Format(opts Options) error {
	return e.format(opts)
}

func (e *Engine) format(opts Options) error {
	if e.initialized {
		return newError(KindInvalidAccess, "format called on an initialized engine")
	}

	h := Header{
		FormatID:         opts.formatID(),
		PageSize:         opts.PageSize,
		PageCount:        opts.PageCount,
		PageBeginAddress: naturalPage0Addr(int(opts.PageCount)),
	}
	if err := deviceProgram(e.dev, 0, h.marshal()); err != nil {
		return wrapError(KindStorageFault, "write header", err)
	}

	var zero Entry
	for i := 0; i < int(opts.PageCount); i++ {
		if err := writeEntry(e.dev, i, zero); err != nil {
			return wrapError(KindTableError, "format entry table", err)
		}
	}

	e.header = h
	return nil
}

func (e *Engine) requireInitialized() error {
	if !e.initialized {
		return newError(KindInvalidAccess, "engine not initialized")
	}
	return nil
}

// allocSlot scans from slot 1 for the first entry that is neither ACTIVE
// nor OPEN (spec §4.7 save step 2).
func (e *Engine) allocSlot() (int, error) {
	for i := 1; i < int(e.header.PageCount); i++ {
		entry, err := readEntry(e.dev, i)
		if err != nil {
			return 0, err
		}
		if !entry.isActive() && !entry.isOpen() {
			return i, nil
		}
	}
	return 0, newError(KindInsufficientSpace, "entry table is full")
}

// Save writes value under key, creating a new entry or overwriting the
// existing one (spec §4.7 save).
func (e *Engine) Save(key string, value []byte) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	if key == "" {
		return newError(KindInvalidAccess, "key must not be empty")
	}

	slot, err := lookupByKey(e.dev, &e.header, []byte(key), false, 1)
	if err != nil {
		return err
	}

	var entry Entry
	isOverwrite := slot != 0
	if isOverwrite {
		entry, err = readEntry(e.dev, slot)
		if err != nil {
			return err
		}
	} else {
		slot, err = e.allocSlot()
		if err != nil {
			return err
		}
	}

	openEntry := entry
	openEntry.Metadata |= metaOpen
	if err := writeEntry(e.dev, slot, openEntry); err != nil {
		return wrapError(KindTableError, "mark entry open", err)
	}

	keyMultipage := entry.isKeyMultipage()
	if !isOverwrite {
		keyBytes := append([]byte(key), 0) // I6: trailing NUL
		keyStart, keyMulti, _, err := writeData(e.dev, &e.header, e.bitmap, keyBytes, 0, false)
		if err != nil {
			return err
		}
		entry.KeyPage = keyStart
		keyMultipage = keyMulti
	}

	valueStart, valueMulti, remains, err := writeData(e.dev, &e.header, e.bitmap, value, entry.ValuePage, entry.isValueMultipage())
	if err != nil {
		return err
	}
	entry.ValuePage = valueStart
	entry.Remains = remains

	finalMeta := byte(metaActive | metaKeyFormatString)
	if keyMultipage {
		finalMeta |= metaKeyMultipage
	}
	if valueMulti {
		finalMeta |= metaValueMultipage
	}
	entry.Metadata = finalMeta

	if err := writeEntry(e.dev, slot, entry); err != nil {
		e.initialized = false
		return wrapError(KindTableError, "commit entry", err)
	}

	return nil
}

// SaveString is Save with a NUL-terminated string value.
func (e *Engine) SaveString(key, value string) error {
	return e.Save(key, append([]byte(value), 0))
}

// Retrieve looks up key and fetches its value. When buf is non-nil it is
// used as the destination (truncating if too small); otherwise a buffer is
// allocated. size is always the untruncated effective length, so a caller
// can compare it against len(buf) to detect truncation (spec §9.4).
func (e *Engine) Retrieve(key string, buf []byte) (value []byte, size int, err error) {
	if err = e.requireInitialized(); err != nil {
		return nil, 0, err
	}
	if key == "" {
		return nil, 0, newError(KindInvalidAccess, "key must not be empty")
	}

	slot, err := lookupByKey(e.dev, &e.header, []byte(key), false, 1)
	if err != nil {
		return nil, 0, err
	}
	if slot == 0 {
		return nil, 0, newError(KindNotFound, "key not found")
	}

	entry, err := readEntry(e.dev, slot)
	if err != nil {
		return nil, 0, err
	}

	dest, maxSize, err := fetch(e.dev, &e.header, entry.ValuePage, entry.isValueMultipage(), buf, buf != nil)
	if err != nil {
		return nil, 0, wrapError(KindFetchFault, "fetch value", err)
	}

	size = int(maxSize) - int(entry.Remains)
	if size < len(dest) {
		dest = dest[:size]
	}
	return dest, size, nil
}

// RetrieveIntoBuffer fills buf with key's value, truncating if buf is too
// small, and reports the untruncated effective length.
func (e *Engine) RetrieveIntoBuffer(key string, buf []byte) (int, error) {
	_, size, err := e.Retrieve(key, buf)
	return size, err
}

// RetrieveStringIntoBuffer is RetrieveIntoBuffer for a NUL-terminated
// string value, returning the string up to its first NUL within buf.
func (e *Engine) RetrieveStringIntoBuffer(key string, buf []byte) (string, error) {
	size, err := e.RetrieveIntoBuffer(key, buf)
	if err != nil {
		return "", err
	}
	n := size
	if n > len(buf) {
		n = len(buf)
	}
	return string(buf[:nulIndex(buf[:n])]), nil
}

// RetrieveStringAlloc is Retrieve for a NUL-terminated string value into a
// freshly allocated buffer.
func (e *Engine) RetrieveStringAlloc(key string) (string, error) {
	dest, size, err := e.Retrieve(key, nil)
	if err != nil {
		return "", err
	}
	n := size
	if n > len(dest) {
		n = len(dest)
	}
	return string(dest[:nulIndex(dest[:n])]), nil
}

// Rename moves key's binding to newKey, rewriting its key chain in place
// (spec §4.7 rename). Renaming a key to itself is a no-op success.
// Renaming to an existing different key reports keyDuplicate (the §9.1
// open question, resolved in favor of the pre-check).
func (e *Engine) Rename(oldKey, newKey string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	if oldKey == "" || newKey == "" {
		return newError(KindInvalidAccess, "keys must not be empty")
	}

	slot, err := lookupByKey(e.dev, &e.header, []byte(oldKey), false, 1)
	if err != nil {
		return err
	}
	if slot == 0 {
		return newError(KindNotFound, "key not found")
	}

	if oldKey == newKey {
		return nil
	}

	dupSlot, err := lookupByKey(e.dev, &e.header, []byte(newKey), false, 1)
	if err != nil {
		return err
	}
	if dupSlot != 0 {
		return newError(KindKeyDuplicate, "rename target key already exists")
	}

	entry, err := readEntry(e.dev, slot)
	if err != nil {
		return err
	}

	newKeyBytes := append([]byte(newKey), 0)
	keyStart, keyMulti, _, err := writeData(e.dev, &e.header, e.bitmap, newKeyBytes, entry.KeyPage, entry.isKeyMultipage())
	if err != nil {
		return e.restoreRenameFailure(slot, entry, oldKey)
	}

	entry.KeyPage = keyStart
	if keyMulti {
		entry.Metadata |= metaKeyMultipage
	} else {
		entry.Metadata &^= metaKeyMultipage
	}

	if err := writeEntry(e.dev, slot, entry); err != nil {
		e.initialized = false
		return wrapError(KindTableError, "commit renamed entry", err)
	}

	return nil
}

// restoreRenameFailure implements the rename self-healing path (spec §4.7
// step 3): try to rewrite oldKey back into the chain that was being reused.
// If even that fails, the binding is lost and the engine deinitializes.
func (e *Engine) restoreRenameFailure(slot int, entry Entry, oldKey string) error {
	oldKeyBytes := append([]byte(oldKey), 0)
	restoreStart, restoreMulti, _, restoreErr := writeData(e.dev, &e.header, e.bitmap, oldKeyBytes, entry.KeyPage, entry.isKeyMultipage())
	if restoreErr != nil {
		entry.Metadata = 0
		_ = writeEntry(e.dev, slot, entry)
		e.initialized = false
		return newError(KindUnknown, "rename failed and restore failed; binding lost")
	}

	entry.KeyPage = restoreStart
	if restoreMulti {
		entry.Metadata |= metaKeyMultipage
	} else {
		entry.Metadata &^= metaKeyMultipage
	}
	if err := writeEntry(e.dev, slot, entry); err != nil {
		e.initialized = false
		return wrapError(KindTableError, "restore entry after failed rename", err)
	}
	return newError(KindInsufficientSpace, "rename failed, old key restored")
}

// Delete frees key's chains and clears its entry (spec §4.7 delete).
func (e *Engine) Delete(key string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	if key == "" {
		return newError(KindInvalidAccess, "key must not be empty")
	}

	slot, err := lookupByKey(e.dev, &e.header, []byte(key), false, 1)
	if err != nil {
		return err
	}
	if slot == 0 {
		return newError(KindNotFound, "key not found")
	}

	entry, err := readEntry(e.dev, slot)
	if err != nil {
		return err
	}

	if _, err := markChain(e.dev, &e.header, e.bitmap, entry.KeyPage, false, entry.isKeyMultipage()); err != nil {
		return err
	}
	if _, err := markChain(e.dev, &e.header, e.bitmap, entry.ValuePage, false, entry.isValueMultipage()); err != nil {
		return err
	}

	if err := writeEntry(e.dev, slot, Entry{}); err != nil {
		return wrapError(KindTableError, "clear entry", err)
	}
	return nil
}

// Search resumes a prefix scan from *state (SearchInitialState on the first
// call), fetching the matching key into keyBuf and advancing *state past
// the hit slot (spec §4.7 search). Returns notFound once exhausted.
func (e *Engine) Search(prefix string, state *int, keyBuf []byte) (string, error) {
	if err := e.requireInitialized(); err != nil {
		return "", err
	}
	if state == nil {
		return "", newError(KindInvalidAccess, "state must not be nil")
	}
	if *state == 0 {
		*state = SearchInitialState
	}

	slot, err := lookupByKey(e.dev, &e.header, []byte(prefix), true, *state)
	if err != nil {
		return "", err
	}
	if slot == 0 {
		return "", newError(KindNotFound, "no more matches")
	}

	entry, err := readEntry(e.dev, slot)
	if err != nil {
		return "", err
	}

	dest, _, err := fetch(e.dev, &e.header, entry.KeyPage, entry.isKeyMultipage(), keyBuf, true)
	if err != nil {
		return "", wrapError(KindFetchFault, "fetch key", err)
	}

	*state = slot + 1
	return string(dest[:nulIndex(dest)]), nil
}

// OrphanedSlots reports table slots left OPEN-but-not-ACTIVE by a crash
// between marking an entry open and its final commit (spec §9.2), as found
// by the sweep Open performs while building the occupancy bitmap. Open
// never reclaims these automatically; this is read-only visibility so a
// caller can decide whether and how to clean them up.
func (e *Engine) OrphanedSlots() ([]int, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	out := make([]int, len(e.orphans))
	copy(out, e.orphans)
	return out, nil
}
