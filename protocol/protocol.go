// Package protocol implements the parley wire format: fixed-layout binary
// frames with a 16-byte header, big-endian integers and zero-padded text
// fields. Encoding produces complete frames (header plus body); decoding
// operates on a frame body that has already been sliced out by the Framer.
package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Frame header constants.
const (
	Magic   uint32 = 0x12345678
	Version uint16 = 0x0001

	// HeaderSize is the fixed size of a frame header on the wire.
	HeaderSize = 16

	// MaxBodyLength is the largest body a valid frame may carry.
	MaxBodyLength = 1024 * 1024
)

// Message types.
const (
	MsgHeartbeatReq uint16 = 0x0001
	MsgHeartbeatRsp uint16 = 0x0002

	MsgLoginReq  uint16 = 0x0101
	MsgLoginRsp  uint16 = 0x0102
	MsgLogoutReq uint16 = 0x0103

	MsgChat        uint16 = 0x0201
	MsgUserListReq uint16 = 0x0202
	MsgUserListRsp uint16 = 0x0203

	MsgFileOffer    uint16 = 0x0301
	MsgFileOfferRsp uint16 = 0x0302
	MsgFileData     uint16 = 0x0303
	MsgFileDataAck  uint16 = 0x0304
)

// Login results.
const (
	LoginSuccess       uint32 = 0
	LoginInvalidParam  uint32 = 1
	LoginServerFull    uint32 = 2
	LoginAlreadyOnline uint32 = 3
	LoginNicknameTaken uint32 = 4
)

// Chat scopes.
const (
	ChatGroup   byte = 0
	ChatPrivate byte = 1
)

// File offer results.
const (
	FileOfferAccept  uint32 = 0
	FileOfferDecline uint32 = 1
	FileOfferBusy    uint32 = 2
)

// Fixed text field widths, in bytes. A field always carries a terminating
// NUL, so the usable length is one less than the width.
const (
	ClientIDSize     = 32
	NicknameSize     = 64
	ChatTextSize     = 256
	LoginMessageSize = 128
	OfferMessageSize = 64
	FileIDSize       = 37
	FileNameSize     = 256
)

// Body sizes of the fixed-layout messages.
const (
	LoginRequestSize      = ClientIDSize + NicknameSize
	LoginResponseSize     = 4 + LoginMessageSize
	ChatMessageSize       = 1 + ClientIDSize + NicknameSize + ClientIDSize + 8 + ChatTextSize
	UserInfoSize          = ClientIDSize + NicknameSize
	FileOfferSize         = FileIDSize + ClientIDSize + NicknameSize + ClientIDSize + 8 + FileNameSize
	FileOfferResponseSize = FileIDSize + 4 + OfferMessageSize
	FileDataHeaderSize    = FileIDSize + 8 + 4
)

// Errors returned by the decode path.
var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("protocol: short header")
	// ErrShortBody is returned when a body is smaller than its fixed layout.
	ErrShortBody = errors.New("protocol: short body")
	// ErrBadFrame names a header with the wrong magic or version, or a body
	// length beyond MaxBodyLength. No function in this package returns it:
	// Header.Valid reports such headers and Framer.Feed answers them with
	// ErrCorruptStream.
	ErrBadFrame = errors.New("protocol: bad frame header")
)

// Header is the decoded form of the 16-byte frame header.
type Header struct {
	Magic      uint32
	Version    uint16
	Type       uint16
	BodyLength uint32
	Sequence   uint32
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Type:       binary.BigEndian.Uint16(b[6:8]),
		BodyLength: binary.BigEndian.Uint32(b[8:12]),
		Sequence:   binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Valid reports whether the header carries the expected magic and version
// and a body length within bounds.
func (h Header) Valid() bool {
	return h.Magic == Magic && h.Version == Version && h.BodyLength <= MaxBodyLength
}

// newFrame allocates a zeroed frame of HeaderSize+bodyLen bytes with the
// header already encoded. The returned slice is the full frame; writers
// fill the body in place starting at HeaderSize.
func newFrame(msgType uint16, sequence uint32, bodyLen int) []byte {
	frame := make([]byte, HeaderSize+bodyLen)
	binary.BigEndian.PutUint32(frame[0:4], Magic)
	binary.BigEndian.PutUint16(frame[4:6], Version)
	binary.BigEndian.PutUint16(frame[6:8], msgType)
	binary.BigEndian.PutUint32(frame[8:12], uint32(bodyLen))
	binary.BigEndian.PutUint32(frame[12:16], sequence)
	return frame
}

// putString copies s into the zeroed fixed-width field dst, truncating so
// that the final byte always remains NUL.
func putString(dst []byte, s string) {
	copy(dst[:len(dst)-1], s)
}

// cstring interprets a fixed-width field: the text runs to the first NUL,
// and the final byte is treated as a NUL whether or not the payload set it.
func cstring(b []byte) string {
	b = b[:len(b)-1]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
