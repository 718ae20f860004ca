package kvat

// readNextPageNumber reads the next-pointer byte at the head of page p. Only
// meaningful for multi-page chains; callers of single-page chains never call
// this. A full word is read (the device's minimum transfer granularity) and
// only the first byte is kept, mirroring the original's PageData-sized probe.
func readNextPageNumber(dev BlockDevice, header *Header, p pageNumber) (pageNumber, error) {
	buf := make([]byte, wordSize)
	if err := deviceRead(dev, pageAddr(header, p), buf); err != nil {
		return 0, wrapError(KindFetchFault, "read next-page pointer", err)
	}
	return buf[0], nil
}

// fetch reads an entire page chain into a buffer, per spec §4.5.
//
// callerBuf, if non-nil, is used as the destination when it is large enough
// to hold the whole record. If it is too small and forceToBuf is set, the
// read is truncated into callerBuf (copying only len(callerBuf) bytes,
// including the trailing safety NUL at the last byte). If it is too small
// and forceToBuf is not set, a freshly allocated buffer is used instead.
//
// maxSize is the full chain capacity (pageCount*pageDataSize), independent
// of any truncation — callers subtract the entry's remains to get the
// effective length, and can compare maxSize against len(callerBuf) to detect
// that a truncation occurred.
func fetch(dev BlockDevice, header *Header, start pageNumber, isMulti bool, callerBuf []byte, forceToBuf bool) (dest []byte, maxSize uint32, err error) {
	if start == 0 {
		return nil, 0, newError(KindFetchFault, "fetch from null page")
	}

	pageCount := 1
	if isMulti {
		current := start
		for pageCount < int(header.PageCount) {
			next, e := readNextPageNumber(dev, header, current)
			if e != nil {
				return nil, 0, e
			}
			if next == 0 {
				break
			}
			current = next
			pageCount++
		}
	}

	pageNextSize := 0
	if isMulti {
		pageNextSize = 1
	}
	pageDataSz := int(header.PageSize) - pageNextSize
	maxSize = uint32(pageDataSz * pageCount)
	recordSize := pageDataSz*pageCount + 1 // +1 for the trailing safety NUL

	var destLen int
	useCallerBuf := false
	switch {
	case callerBuf != nil && len(callerBuf) >= recordSize:
		useCallerBuf = true
		destLen = recordSize
	case callerBuf != nil && forceToBuf:
		useCallerBuf = true
		destLen = len(callerBuf)
	default:
		destLen = recordSize
	}

	if useCallerBuf {
		dest = callerBuf[:destLen]
	} else {
		dest = make([]byte, destLen)
	}

	pageBuf := make([]byte, header.PageSize)
	current := start
	for i := 0; i < pageCount; i++ {
		if err = deviceRead(dev, pageAddr(header, current), pageBuf); err != nil {
			return nil, 0, wrapError(KindFetchFault, "read chain page", err)
		}

		destOff := pageDataSz * i
		if destOff < len(dest) {
			copyLen := pageDataSz
			if destOff+copyLen > len(dest) {
				copyLen = len(dest) - destOff
			}
			copy(dest[destOff:destOff+copyLen], pageBuf[pageNextSize:pageNextSize+copyLen])
		}

		if isMulti {
			current = pageBuf[0]
		} else {
			current = 0
		}
	}

	if len(dest) > 0 {
		dest[len(dest)-1] = 0
	}

	return dest, maxSize, nil
}

// writeData programs data as a page chain, per spec §4.5. When reuseStart is
// non-zero, pages of the existing chain starting there are consumed first
// (destructively) before any fresh allocation happens; reuseMulti describes
// that existing chain's shape.
//
// On success it returns the new chain's start page, whether it ended up
// multi-page, and the remains byte for the entry. On failure it returns a
// zero start page and an error; the bitmap is left consistent (freshly
// allocated pages rolled back, any partially-consumed reuse chain patched to
// terminate cleanly) and the caller's entry metadata is untouched.
func writeData(dev BlockDevice, header *Header, bitmap *occupancyBitmap, data []byte, reuseStart pageNumber, reuseMulti bool) (start pageNumber, isMulti bool, remains byte, err error) {
	size := len(data)
	if size == 0 {
		return 0, false, 0, newError(KindInsufficientSpace, "cannot write a zero-length chain")
	}

	isMulti = size > int(header.PageSize)
	pageNextSize := 0
	if isMulti {
		pageNextSize = 1
	}
	pageDataSz := int(header.PageSize) - pageNextSize

	var pagesNeeded int
	if isMulti {
		pagesNeeded = (size + pageDataSz - 1) / pageDataSz
	} else {
		pagesNeeded = 1
	}
	if pagesNeeded > int(header.PageCount) {
		return 0, false, 0, newError(KindInsufficientSpace, "value needs more pages than exist")
	}

	pagesUsed := make([]pageNumber, pagesNeeded)
	// reuseDryI is the iteration index at which the reuse chain first failed
	// to provide a page (spec §4.5 step 3). -1 means "not yet known".
	reuseDryI := -1

	var nextPageN, reuseNext pageNumber
	if reuseStart != 0 {
		nextPageN = reuseStart
		reuseNext = reuseStart
	} else {
		nextPageN = bitmap.allocLowest(true)
		reuseDryI = 0
	}

	pageBuf := make([]byte, header.PageSize)
	failed := false
	failedAt := 0

	for i := 0; i < pagesNeeded; i++ {
		// Peek the reuse chain's next page before committing this one
		// (spec §4.5 step 4): a multi-page reuse chain may still have
		// more to give; a single-page one is exhausted after one page.
		if reuseNext != 0 && reuseMulti {
			nxt, e := readNextPageNumber(dev, header, reuseNext)
			if e != nil {
				return 0, false, 0, e
			}
			reuseNext = nxt
		} else if reuseNext != 0 {
			reuseNext = 0
		}

		thisPageN := nextPageN
		if thisPageN == 0 {
			failed = true
			failedAt = i
			break
		}
		pagesUsed[i] = thisPageN

		if i+1 < pagesNeeded {
			if reuseNext != 0 {
				nextPageN = reuseNext
			} else {
				if reuseDryI == -1 {
					reuseDryI = i + 1
				}
				nextPageN = bitmap.allocLowest(true)
			}
		} else {
			nextPageN = 0
		}

		if pageNextSize > 0 {
			pageBuf[0] = nextPageN
		}

		off := pageDataSz * i
		remaining := size - off
		n := pageDataSz
		if remaining < n {
			n = remaining
		}
		for j := pageNextSize; j < len(pageBuf); j++ {
			pageBuf[j] = 0
		}
		if n > 0 {
			copy(pageBuf[pageNextSize:pageNextSize+n], data[off:off+n])
		}

		if err = deviceProgram(dev, pageAddr(header, thisPageN), pageBuf); err != nil {
			failed = true
			failedAt = i + 1 // pagesUsed[i] is already recorded; include it in the rollback
			if nextPageN != 0 {
				// The next page was already taken for this page's pointer byte.
				pagesUsed[i+1] = nextPageN
				failedAt = i + 2
			}
			break
		}
	}

	if failed {
		rollbackFrom := failedAt
		if reuseDryI >= 0 {
			rollbackFrom = reuseDryI
		}
		for i := rollbackFrom; i < failedAt; i++ {
			bitmap.mark(pagesUsed[i], false)
		}
		if reuseDryI > 0 && reuseMulti {
			lastReused := pagesUsed[reuseDryI-1]
			patch := make([]byte, header.PageSize)
			if readErr := deviceRead(dev, pageAddr(header, lastReused), patch); readErr == nil {
				patch[0] = 0
				_ = deviceProgram(dev, pageAddr(header, lastReused), patch)
			}
		}
		return 0, false, 0, newError(KindInsufficientSpace, "not enough free pages for chain")
	}

	overflow := size % pageDataSz
	if overflow == 0 {
		remains = 0
	} else {
		remains = byte(pageDataSz - overflow)
	}

	// The old reuse chain ran longer than the new one: free its surplus tail.
	if reuseNext != 0 {
		if _, err = markChain(dev, header, bitmap, reuseNext, false, reuseMulti); err != nil {
			return 0, false, 0, err
		}
	}

	return pagesUsed[0], isMulti, remains, nil
}
