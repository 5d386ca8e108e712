package journal

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkrollup/coordinatord/coordinator/state"
)

func TestAppendAndLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.journal")
	j := Open(path)

	want := []state.L1MessageBeacon{
		{
			From:      common.HexToAddress("0x01"),
			To:        common.HexToAddress("0x02"),
			Value:     big.NewInt(100),
			Fee:       big.NewInt(1),
			Calldata:  []byte{0xde, 0xad},
			Timestamp: 1000,
		},
		{
			From:      common.HexToAddress("0x03"),
			To:        common.HexToAddress("0x04"),
			Value:     big.NewInt(0),
			Fee:       big.NewInt(0),
			Calldata:  nil,
			Timestamp: 2000,
		},
	}

	for _, b := range want {
		require.NoError(t, j.Append(b))
	}

	var got []state.L1MessageBeacon
	require.NoError(t, j.Load(func(b state.L1MessageBeacon) {
		got = append(got, b)
	}))

	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].From, got[i].From)
		assert.Equal(t, want[i].To, got[i].To)
		assert.Equal(t, 0, want[i].Value.Cmp(got[i].Value))
		assert.Equal(t, 0, want[i].Fee.Cmp(got[i].Fee))
		assert.Equal(t, want[i].Timestamp, got[i].Timestamp)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	j := Open(filepath.Join(t.TempDir(), "absent.journal"))
	called := false
	require.NoError(t, j.Load(func(state.L1MessageBeacon) { called = true }))
	assert.False(t, called)
}
