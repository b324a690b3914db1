package linkdiscovery

import (
	"encoding/binary"
	"errors"
)

// Fixed beacon wire constants (design §6 / §4.2).
var (
	// beaconDstMAC is the LLDP-multicast destination every beacon carries.
	beaconDstMAC = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}

	// customTLVOUI is the organizationally-unique identifier of the
	// custom TLV carrying the emitting datapath id.
	customTLVOUI = [3]byte{0x00, 0x26, 0xE1}
)

const (
	ethertypeLLDP = 0x88CC

	// customTLVType is the 127 ("organizationally specific") TLV type.
	customTLVType  uint8 = 127
	customSubtype  uint8 = 0
	chassisIDTLVID uint8 = 1
	portIDTLVID    uint8 = 2
	ttlTLVID       uint8 = 3
	endTLVID       uint8 = 0

	// Field widths composing the fixed layouts below. chassisIDTLV and
	// portIDTLV carry only a header plus their raw value (no subtype
	// byte), which is what makes the untagged total land on exactly 50
	// bytes: 6+6+2 + 10+6+4+14+2 = 50.
	chassisIDTLVLen = 10 // header(2) + dpid(8)
	portIDTLVLen    = 6  // header(2) + port(4)
	ttlTLVLen       = 4  // header(2) + seconds(2)
	customTLVLen    = 14 // header(2) + OUI(3) + subtype(1) + dpid(8)
	endTLVLen       = 2  // header only, length 0

	untaggedLen = 6 + 6 + 2 + chassisIDTLVLen + portIDTLVLen + ttlTLVLen + customTLVLen + endTLVLen
	taggedLen   = untaggedLen + 4 // 4-byte VLAN field inserted before the ethertype
)

// sizeInvariant pins the two wire layouts to the byte counts the design
// names (50 and 54) at compile time.
var (
	_ [untaggedLen - 50]struct{}
	_ [50 - untaggedLen]struct{}
	_ [taggedLen - 54]struct{}
	_ [54 - taggedLen]struct{}
)

// ErrShortBeacon is returned by DecodeBeacon when data is too short to be
// either wire variant.
var ErrShortBeacon = errors.New("linkdiscovery: beacon frame too short")

// ErrNotBeacon is returned by DecodeBeacon when data does not carry the
// expected destination MAC, custom TLV type, OUI, or subtype.
var ErrNotBeacon = errors.New("linkdiscovery: not a beacon frame")

// tlvHeader packs a TLV's 7-bit type and 9-bit length into two bytes, LLDP
// style: the high 7 bits of the first byte are the type, the low bit of
// the first byte plus all of the second byte are the length.
func tlvHeader(tlvType uint8, length uint16) [2]byte {
	v := uint16(tlvType)<<9 | length
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b
}

func parseTLVHeader(b [2]byte) (tlvType uint8, length uint16) {
	v := binary.BigEndian.Uint16(b[:])
	return uint8(v >> 9), v & 0x1ff
}

// EncodeBeacon builds a beacon frame for dpid emitted out of port, with
// srcMAC as the ethernet source address and ttlSeconds its LLDP TTL. When
// vlanTag is non-nil, the tagged (54-byte) layout is produced; otherwise
// the untagged (50-byte) layout.
func EncodeBeacon(dpid uint64, port uint32, srcMAC [6]byte, ttlSeconds uint16, vlanTag *uint16) []byte {
	size := untaggedLen
	if vlanTag != nil {
		size = taggedLen
	}
	buf := make([]byte, size)
	off := 0

	copy(buf[off:], beaconDstMAC[:])
	off += 6
	copy(buf[off:], srcMAC[:])
	off += 6

	if vlanTag != nil {
		binary.BigEndian.PutUint16(buf[off:], 0x8100)
		off += 2
		binary.BigEndian.PutUint16(buf[off:], *vlanTag)
		off += 2
	}

	binary.BigEndian.PutUint16(buf[off:], ethertypeLLDP)
	off += 2

	hdr := tlvHeader(chassisIDTLVID, chassisIDTLVLen-2)
	copy(buf[off:], hdr[:])
	off += 2
	binary.BigEndian.PutUint64(buf[off:], dpid)
	off += 8

	hdr = tlvHeader(portIDTLVID, portIDTLVLen-2)
	copy(buf[off:], hdr[:])
	off += 2
	binary.BigEndian.PutUint32(buf[off:], port)
	off += 4

	hdr = tlvHeader(ttlTLVID, ttlTLVLen-2)
	copy(buf[off:], hdr[:])
	off += 2
	binary.BigEndian.PutUint16(buf[off:], ttlSeconds)
	off += 2

	hdr = tlvHeader(customTLVType, customTLVLen-2)
	copy(buf[off:], hdr[:])
	off += 2
	copy(buf[off:], customTLVOUI[:])
	off += 3
	buf[off] = customSubtype
	off++
	binary.BigEndian.PutUint64(buf[off:], dpid)
	off += 8

	hdr = tlvHeader(endTLVID, 0)
	copy(buf[off:], hdr[:])
	off += 2

	return buf[:off]
}

// Decoded holds the fields DecodeBeacon extracts: the emitting switch's
// datapath id and the port it went out of.
type Decoded struct {
	DPID uint64
	Port uint32
}

// DecodeBeacon validates and extracts a beacon's TLVs from either wire
// variant. The VLAN field (if present) is located by its own ethertype
// marker rather than assumed from length, so both the 50- and 54-byte
// forms decode with the same scan.
func DecodeBeacon(data []byte) (Decoded, error) {
	if len(data) < untaggedLen {
		return Decoded{}, ErrShortBeacon
	}
	if [6]byte(data[0:6]) != beaconDstMAC {
		return Decoded{}, ErrNotBeacon
	}

	off := 12
	ethertype := binary.BigEndian.Uint16(data[off : off+2])
	off += 2
	if ethertype == 0x8100 {
		off += 2 // skip the VLAN id field; the 0x8100 marker itself was the 2 bytes just consumed
		ethertype = binary.BigEndian.Uint16(data[off : off+2])
		off += 2
	}
	if ethertype != ethertypeLLDP {
		return Decoded{}, ErrNotBeacon
	}

	var dpid uint64
	var port uint32
	var haveDPID, havePort bool

	for off+2 <= len(data) {
		tlvType, length := parseTLVHeader([2]byte(data[off : off+2]))
		off += 2
		if tlvType == endTLVID {
			break
		}
		if off+int(length) > len(data) {
			return Decoded{}, ErrNotBeacon
		}
		switch tlvType {
		case portIDTLVID:
			if length != portIDTLVLen-2 {
				return Decoded{}, ErrNotBeacon
			}
			port = binary.BigEndian.Uint32(data[off : off+4])
			havePort = true
		case customTLVType:
			if length != customTLVLen-2 ||
				[3]byte(data[off:off+3]) != customTLVOUI ||
				data[off+3] != customSubtype {
				return Decoded{}, ErrNotBeacon
			}
			dpid = binary.BigEndian.Uint64(data[off+4 : off+12])
			haveDPID = true
		}
		off += int(length)
	}

	if !haveDPID || !havePort {
		return Decoded{}, ErrNotBeacon
	}
	return Decoded{DPID: dpid, Port: port}, nil
}
