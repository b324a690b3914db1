package linkdiscovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBeaconUntagged(t *testing.T) {
	mac := [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	frame := EncodeBeacon(0x0102030405060708, 7, mac, 5, nil)
	assert.Len(t, frame, untaggedLen)

	got, err := DecodeBeacon(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), got.DPID)
	assert.Equal(t, uint32(7), got.Port)
}

func TestEncodeDecodeBeaconTagged(t *testing.T) {
	mac := [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	vlan := uint16(42)
	frame := EncodeBeacon(0xAABBCCDDEEFF0011, 99, mac, 5, &vlan)
	assert.Len(t, frame, taggedLen)

	got, err := DecodeBeacon(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xAABBCCDDEEFF0011), got.DPID)
	assert.Equal(t, uint32(99), got.Port)
}

func TestDecodeBeaconShort(t *testing.T) {
	_, err := DecodeBeacon(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortBeacon)
}

func TestDecodeBeaconWrongDstMAC(t *testing.T) {
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	frame := EncodeBeacon(1, 1, mac, 5, nil)
	frame[0] = 0xFF
	_, err := DecodeBeacon(frame)
	assert.ErrorIs(t, err, ErrNotBeacon)
}

func TestDecodeBeaconNotLLDP(t *testing.T) {
	frame := make([]byte, untaggedLen)
	copy(frame[0:6], beaconDstMAC[:])
	_, err := DecodeBeacon(frame)
	assert.ErrorIs(t, err, ErrNotBeacon)
}
