// Package rds builds the RDS/RDS2 baseband bitstream: block checkwords,
// type 0A (programme service) and 2A (radiotext) groups, the group
// cadence and the station logo framing carried on the RDS2 streams.
package rds

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// crcPoly is the 10-bit RDS generator polynomial x^10+x^8+x^7+x^5+x^4+x^3+1
	// including the implicit x^10 term.
	crcPoly = 0x5B9

	// BlockBits is the length of one block on air (16 data + 10 check bits).
	BlockBits = 26
	// GroupBits is the length of one group (four blocks).
	GroupBits = 4 * BlockBits

	// PSLength and RTLength are the fixed on-air lengths of the station
	// name and radiotext.
	PSLength = 8
	RTLength = 64

	// BitRate is the RDS data rate in bits per second.
	BitRate = 1187.5
)

// Offset words added to the checkword of each block position.
const (
	OffsetA uint16 = 0x0FC
	OffsetB uint16 = 0x198
	OffsetC uint16 = 0x168
	OffsetD uint16 = 0x1B4
)

// Identity is the station data carried in the groups. It is fixed for the
// lifetime of a session.
type Identity struct {
	PI  uint16 `json:"pi"`
	PS  string `json:"ps"`
	RT  string `json:"rt"`
	PTY uint8  `json:"pty"`
	TP  bool   `json:"tp"`
}

// NewIdentity returns an identity with PS and RT normalized to their
// on-air lengths.
func NewIdentity(pi uint16, ps, rt string) Identity {
	return Identity{PI: pi, PS: NormalizePS(ps), RT: NormalizeRT(rt)}
}

// NormalizePS truncates or space-pads s to exactly 8 characters.
func NormalizePS(s string) string { return fixedWidth(s, PSLength) }

// NormalizeRT truncates or space-pads s to exactly 64 characters.
func NormalizeRT(s string) string { return fixedWidth(s, RTLength) }

func fixedWidth(s string, n int) string {
	b := []byte(s)
	if len(b) >= n {
		return string(b[:n])
	}
	return string(b) + strings.Repeat(" ", n-len(b))
}

// ParsePI parses a programme identification code written in hex, with or
// without a 0x prefix.
func ParsePI(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty PI code")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid PI code %q: %w", s, err)
	}
	return uint16(v), nil
}

// CRC10 computes the 10-bit checkword of a 16-bit information word.
func CRC10(word uint16) uint16 {
	var reg uint32
	data := uint32(word) << 10
	for i := BlockBits - 1; i >= 0; i-- {
		bit := (data >> uint(i)) & 1
		top := (reg >> 10) & 1
		reg = ((reg << 1) & 0x7FF) | bit
		if top == 1 {
			reg ^= crcPoly
		}
	}
	return uint16(reg & 0x3FF)
}

// PackBlock returns the 26 on-air bits of a block, MSB first: the 16-bit
// word followed by its checkword XOR the block offset.
func PackBlock(word, offset uint16) []byte {
	out := make([]byte, 0, BlockBits)
	return appendBlock(out, word, offset)
}

func appendBlock(dst []byte, word, offset uint16) []byte {
	check := CRC10(word) ^ offset
	for i := 15; i >= 0; i-- {
		dst = append(dst, byte(word>>uint(i))&1)
	}
	for i := 9; i >= 0; i-- {
		dst = append(dst, byte(check>>uint(i))&1)
	}
	return dst
}

// DecodeBlock splits a 26-bit block into its information word and the
// offset word it was sent with (checkword XOR recomputed CRC).
func DecodeBlock(bits []byte) (word uint16, offset uint16, err error) {
	if len(bits) != BlockBits {
		return 0, 0, fmt.Errorf("block must be %d bits, got %d", BlockBits, len(bits))
	}
	var check uint16
	for i := 0; i < 16; i++ {
		word = word<<1 | uint16(bits[i]&1)
	}
	for i := 16; i < BlockBits; i++ {
		check = check<<1 | uint16(bits[i]&1)
	}
	return word, check ^ CRC10(word), nil
}

func (id Identity) blockB(groupType, segment uint16) uint16 {
	b := groupType<<1 | segment
	b |= uint16(id.PTY&0x1F) << 5
	if id.TP {
		b |= 1 << 10
	}
	return b
}

func group(a, b, c, d uint16) []byte {
	out := make([]byte, 0, GroupBits)
	out = appendBlock(out, a, OffsetA)
	out = appendBlock(out, b, OffsetB)
	out = appendBlock(out, c, OffsetC)
	return appendBlock(out, d, OffsetD)
}

// Group0A builds a programme service group carrying two PS characters.
// Only the low two bits of segment are used.
func Group0A(id Identity, segment int) []byte {
	seg := uint16(segment) & 0x3
	ps := NormalizePS(id.PS)
	d := uint16(ps[seg*2])<<8 | uint16(ps[seg*2+1])
	return group(id.PI, id.blockB(0, seg), 0, d)
}

// Group2A builds a radiotext group carrying four RT characters. Only the
// low four bits of segment are used.
func Group2A(id Identity, segment int) []byte {
	seg := uint16(segment) & 0xF
	rt := NormalizeRT(id.RT)
	i := seg * 4
	c := uint16(rt[i])<<8 | uint16(rt[i+1])
	d := uint16(rt[i+2])<<8 | uint16(rt[i+3])
	return group(id.PI, id.blockB(2, seg), c, d)
}
