// Package wire encodes and decodes the two on-wire packet framings used by
// the UDP multicast transport: short packets (whole message in one
// datagram) and fragment packets (one piece of a larger message).
//
// All multi-byte header fields are big-endian, matching
// encoding/binary.BigEndian used throughout the rest of this module.
package wire

import (
	"encoding/binary"
	"errors"
)

// Magic values identifying the two packet families on the wire. These are
// private to cooperating processes of this module; there is no
// requirement to interoperate with any other multicast pub/sub wire
// format, so the values are arbitrary but fixed.
const (
	MagicShort uint32 = 0x7a636d30 // "zcm0"
	MagicLong  uint32 = 0x7a636d31 // "zcm1"
)

// ShortHeaderSize is the size in bytes of a short-packet header: magic (4)
// + message sequence number (4).
const ShortHeaderSize = 4 + 4

// FragHeaderSize is the size in bytes of a fragment-packet header: magic
// (4) + message sequence number (4) + total message size (4) + fragment
// offset (4) + fragment number (2) + fragments-in-message (2).
const FragHeaderSize = 4 + 4 + 4 + 4 + 2 + 2

// ErrBadPacket is returned by Decode when a datagram is too short,
// carries an unrecognized magic, or otherwise fails header validation.
// Callers of Decode are expected to count and drop, never propagate.
var ErrBadPacket = errors.New("wire: bad packet")

// Kind distinguishes the decoded packet family.
type Kind uint8

const (
	KindShort Kind = iota
	KindFragment
)

// ShortPacket is the decoded view of a short-framed datagram. Payload
// references the caller-supplied backing buffer and is not copied;
// Channel is a copy.
type ShortPacket struct {
	MsgSeqno uint32
	Channel  string
	Payload  []byte
}

// FragmentPacket is the decoded view of a fragment-framed datagram.
// Channel is only populated when FragmentNo == 0, since only fragment 0
// carries the inline channel prefix. Data references the caller-supplied
// backing buffer.
type FragmentPacket struct {
	MsgSeqno         uint32
	TotalMessageSize uint32
	FragmentOffset   uint32
	FragmentNo       uint16
	FragmentsInMsg   uint16
	Channel          string // only set when FragmentNo == 0
	Data             []byte
}

// Decode identifies and parses a received datagram. mtu and
// channelMaxLen bound total-message-size and channel length respectively.
func Decode(datagram []byte, mtu, channelMaxLen int) (Kind, *ShortPacket, *FragmentPacket, error) {
	if len(datagram) < ShortHeaderSize {
		return 0, nil, nil, ErrBadPacket
	}
	magic := binary.BigEndian.Uint32(datagram[0:4])
	switch magic {
	case MagicShort:
		p, err := decodeShort(datagram, channelMaxLen)
		if err != nil {
			return 0, nil, nil, err
		}
		return KindShort, p, nil, nil
	case MagicLong:
		p, err := decodeFragment(datagram, mtu, channelMaxLen)
		if err != nil {
			return 0, nil, nil, err
		}
		return KindFragment, nil, p, nil
	default:
		return 0, nil, nil, ErrBadPacket
	}
}

func decodeShort(datagram []byte, channelMaxLen int) (*ShortPacket, error) {
	seqno := binary.BigEndian.Uint32(datagram[4:8])
	body := datagram[ShortHeaderSize:]
	nul := indexByte(body, 0, channelMaxLen+1)
	if nul < 0 {
		return nil, ErrBadPacket
	}
	return &ShortPacket{
		MsgSeqno: seqno,
		Channel:  string(body[:nul]),
		Payload:  body[nul+1:],
	}, nil
}

func decodeFragment(datagram []byte, mtu, channelMaxLen int) (*FragmentPacket, error) {
	if len(datagram) < FragHeaderSize {
		return nil, ErrBadPacket
	}
	seqno := binary.BigEndian.Uint32(datagram[4:8])
	totalSize := binary.BigEndian.Uint32(datagram[8:12])
	offset := binary.BigEndian.Uint32(datagram[12:16])
	fragNo := binary.BigEndian.Uint16(datagram[16:18])
	nfrags := binary.BigEndian.Uint16(datagram[18:20])

	if totalSize > uint32(mtu) {
		return nil, ErrBadPacket
	}
	if nfrags == 0 || fragNo >= nfrags {
		return nil, ErrBadPacket
	}

	data := datagram[FragHeaderSize:]
	p := &FragmentPacket{
		MsgSeqno:         seqno,
		TotalMessageSize: totalSize,
		FragmentOffset:   offset,
		FragmentNo:       fragNo,
		FragmentsInMsg:   nfrags,
	}

	if fragNo == 0 {
		nul := indexByte(data, 0, channelMaxLen+1)
		if nul < 0 {
			return nil, ErrBadPacket
		}
		p.Channel = string(data[:nul])
		data = data[nul+1:]
	}

	if uint64(offset)+uint64(len(data)) > uint64(totalSize) {
		return nil, ErrBadPacket
	}
	p.Data = data
	return p, nil
}

// indexByte returns the index of the first occurrence of target within
// the first limit bytes of b, or -1 if none is found in range. It mirrors
// bytes.IndexByte but bounds the search so an unterminated channel in an
// adversarial/corrupt datagram cannot make decoding scan the whole
// payload before failing.
func indexByte(b []byte, target byte, limit int) int {
	n := len(b)
	if limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		if b[i] == target {
			return i
		}
	}
	return -1
}

// EncodeShort writes a short-framed datagram into dst, which must have at
// least ShortHeaderSize+len(channel)+1+len(payload) bytes of capacity. It
// returns the number of bytes written.
func EncodeShort(dst []byte, seqno uint32, channel string, payload []byte) int {
	binary.BigEndian.PutUint32(dst[0:4], MagicShort)
	binary.BigEndian.PutUint32(dst[4:8], seqno)
	n := ShortHeaderSize
	n += copy(dst[n:], channel)
	dst[n] = 0
	n++
	n += copy(dst[n:], payload)
	return n
}

// EncodeFragmentHeader writes a fragment header into dst, which must have
// at least FragHeaderSize bytes of capacity.
func EncodeFragmentHeader(dst []byte, seqno, totalSize, offset uint32, fragNo, nfrags uint16) {
	binary.BigEndian.PutUint32(dst[0:4], MagicLong)
	binary.BigEndian.PutUint32(dst[4:8], seqno)
	binary.BigEndian.PutUint32(dst[8:12], totalSize)
	binary.BigEndian.PutUint32(dst[12:16], offset)
	binary.BigEndian.PutUint16(dst[16:18], fragNo)
	binary.BigEndian.PutUint16(dst[18:20], nfrags)
}
