package kvat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteEntryRoundTrip(t *testing.T) {
	dev := newTestDevice(t, 12, 16)

	want := Entry{Metadata: metaActive | metaKeyMultipage, KeyPage: 3, ValuePage: 7, Remains: 5}
	require.NoError(t, writeEntry(dev, 2, want))

	got, err := readEntry(dev, 2)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEntryPredicates(t *testing.T) {
	e := Entry{Metadata: metaActive | metaValueMultipage}
	require.True(t, e.isActive())
	require.False(t, e.isOpen())
	require.False(t, e.isKeyMultipage())
	require.True(t, e.isValueMultipage())
}
