package kvat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteDataThenFetchSinglePage(t *testing.T) {
	dev := newTestDevice(t, 12, 16)
	header := testHeader(12, 16)
	bitmap := newOccupancyBitmap(16)

	data := []byte("ok")
	start, isMulti, remains, err := writeData(dev, &header, bitmap, data, 0, false)
	require.NoError(t, err)
	require.False(t, isMulti)
	require.EqualValues(t, 12-len(data), remains)

	got, maxSize, err := fetch(dev, &header, start, isMulti, nil, false)
	require.NoError(t, err)
	require.EqualValues(t, 12, maxSize)
	require.Equal(t, data, got[:len(data)])
}

func TestWriteDataThenFetchMultiPage(t *testing.T) {
	dev := newTestDevice(t, 12, 16)
	header := testHeader(12, 16)
	bitmap := newOccupancyBitmap(16)

	data := []byte("First string saved. \nMake sure it's on multiple pages.")
	start, isMulti, _, err := writeData(dev, &header, bitmap, data, 0, false)
	require.NoError(t, err)
	require.True(t, isMulti)

	got, _, err := fetch(dev, &header, start, isMulti, nil, false)
	require.NoError(t, err)
	require.Equal(t, data, got[:len(data)])
}

func TestWriteDataOverwriteReusesChainPages(t *testing.T) {
	dev := newTestDevice(t, 12, 16)
	header := testHeader(12, 16)
	bitmap := newOccupancyBitmap(16)

	first := []byte("First.")
	start1, multi1, _, err := writeData(dev, &header, bitmap, first, 0, false)
	require.NoError(t, err)

	second := []byte("First. This part is new. This is newer.")
	start2, multi2, _, err := writeData(dev, &header, bitmap, second, start1, multi1)
	require.NoError(t, err)
	require.Equal(t, start1, start2, "the first page of a reused chain keeps its page number")
	require.True(t, multi2)

	got, _, err := fetch(dev, &header, start2, multi2, nil, false)
	require.NoError(t, err)
	require.Equal(t, second, got[:len(second)])
}

func TestWriteDataShrinkFreesSurplusTail(t *testing.T) {
	dev := newTestDevice(t, 12, 16)
	header := testHeader(12, 16)
	bitmap := newOccupancyBitmap(16)

	long := []byte("First. This part is new. This is newer.")
	start1, multi1, _, err := writeData(dev, &header, bitmap, long, 0, false)
	require.NoError(t, err)

	usedBefore := countUsed(bitmap, 16)

	short := []byte("First.")
	start2, multi2, _, err := writeData(dev, &header, bitmap, short, start1, multi1)
	require.NoError(t, err)
	require.Equal(t, start1, start2)
	require.False(t, multi2)

	usedAfter := countUsed(bitmap, 16)
	require.Less(t, usedAfter, usedBefore, "shrinking a chain must free its surplus tail")
}

func TestWriteDataInsufficientSpaceRollsBack(t *testing.T) {
	dev := newTestDevice(t, 12, 4) // 3 usable pages (0 reserved)
	header := testHeader(12, 4)
	bitmap := newOccupancyBitmap(4)

	// 3 usable pages, 11 payload bytes each on a multi-page chain = 33 bytes max.
	tooBig := make([]byte, 64)
	_, _, _, err := writeData(dev, &header, bitmap, tooBig, 0, false)
	require.Error(t, err)
	var kvatErr *Error
	require.ErrorAs(t, err, &kvatErr)
	require.Equal(t, KindInsufficientSpace, kvatErr.Kind())

	// Bitmap must be back to only page 0 used.
	require.EqualValues(t, 1, countUsed(bitmap, 4))
}

func TestFetchTruncatesIntoSmallCallerBuffer(t *testing.T) {
	dev := newTestDevice(t, 12, 16)
	header := testHeader(12, 16)
	bitmap := newOccupancyBitmap(16)

	data := []byte("First string saved. \nMake sure it's on multiple pages.")
	start, isMulti, _, err := writeData(dev, &header, bitmap, data, 0, false)
	require.NoError(t, err)

	small := make([]byte, 8)
	got, maxSize, err := fetch(dev, &header, start, isMulti, small, true)
	require.NoError(t, err)
	require.Len(t, got, 8)
	require.Greater(t, int(maxSize), len(small), "maxSize still reports the untruncated capacity")
}

func countUsed(b *occupancyBitmap, pageCount int) int {
	n := 0
	for p := 0; p < pageCount; p++ {
		if b.check(pageNumber(p)) {
			n++
		}
	}
	return n
}
