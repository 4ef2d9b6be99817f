package protocol

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitFrame separates an encoded frame into its parsed header and body.
func splitFrame(t *testing.T, frame []byte) (Header, []byte) {
	t.Helper()
	require.GreaterOrEqual(t, len(frame), HeaderSize)
	h, err := ParseHeader(frame)
	require.NoError(t, err)
	require.True(t, h.Valid())
	require.Equal(t, len(frame)-HeaderSize, int(h.BodyLength))
	return h, frame[HeaderSize:]
}

func TestHeaderRoundTrip(t *testing.T) {
	frame := EncodeHeartbeatRequest(42)
	require.Len(t, frame, HeaderSize)

	h, body := splitFrame(t, frame)
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, MsgHeartbeatReq, h.Type)
	assert.Equal(t, uint32(0), h.BodyLength)
	assert.Equal(t, uint32(42), h.Sequence)
	assert.Empty(t, body)
}

func TestHeaderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Header)
		valid  bool
	}{
		{"good", func(h *Header) {}, true},
		{"bad magic", func(h *Header) { h.Magic = 0xdeadbeef }, false},
		{"bad version", func(h *Header) { h.Version = 2 }, false},
		{"body at limit", func(h *Header) { h.BodyLength = MaxBodyLength }, true},
		{"body over limit", func(h *Header) { h.BodyLength = MaxBodyLength + 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Header{Magic: Magic, Version: Version, Type: MsgChat, Sequence: 7}
			tt.mutate(&h)
			assert.Equal(t, tt.valid, h.Valid())
		})
	}
}

func TestParseHeader_Short(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestLoginRequestRoundTrip(t *testing.T) {
	frame := EncodeLoginRequest(1, "alice", "Alice")
	h, body := splitFrame(t, frame)
	assert.Equal(t, MsgLoginReq, h.Type)
	require.Len(t, body, LoginRequestSize)

	req, err := DecodeLoginRequest(body)
	require.NoError(t, err)
	assert.Equal(t, LoginRequest{ClientID: "alice", Nickname: "Alice"}, req)
}

func TestLoginResponseRoundTrip(t *testing.T) {
	frame := EncodeLoginResponse(9, LoginNicknameTaken, "Nickname taken")
	h, body := splitFrame(t, frame)
	assert.Equal(t, MsgLoginRsp, h.Type)
	assert.Equal(t, uint32(9), h.Sequence)

	rsp, err := DecodeLoginResponse(body)
	require.NoError(t, err)
	assert.Equal(t, LoginNicknameTaken, rsp.Result)
	assert.Equal(t, "Nickname taken", rsp.Message)
}

func TestChatMessageRoundTrip(t *testing.T) {
	in := ChatMessage{
		Scope:     ChatPrivate,
		FromID:    "alice",
		FromNick:  "Alice",
		ToID:      "bob",
		Timestamp: 1717171717,
		Text:      "yo",
	}
	frame := EncodeChatMessage(3, in)
	h, body := splitFrame(t, frame)
	assert.Equal(t, MsgChat, h.Type)
	require.Len(t, body, ChatMessageSize)

	out, err := DecodeChatMessage(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUserListRoundTrip(t *testing.T) {
	users := []UserInfo{
		{ClientID: "alice", Nickname: "Alice"},
		{ClientID: "bob", Nickname: "Bob"},
		{ClientID: "carol", Nickname: "Carol"},
	}
	frame := EncodeUserListResponse(5, users)
	h, body := splitFrame(t, frame)
	assert.Equal(t, MsgUserListRsp, h.Type)
	require.Len(t, body, 4+3*UserInfoSize)

	out, err := DecodeUserListResponse(body)
	require.NoError(t, err)
	assert.Equal(t, users, out)
}

func TestUserListRoundTrip_Empty(t *testing.T) {
	frame := EncodeUserListResponse(0, nil)
	_, body := splitFrame(t, frame)
	require.Len(t, body, 4)

	out, err := DecodeUserListResponse(body)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUserList_CountBeyondBody(t *testing.T) {
	body := make([]byte, 4+UserInfoSize)
	binary.BigEndian.PutUint32(body, 2)
	_, err := DecodeUserListResponse(body)
	assert.ErrorIs(t, err, ErrShortBody)
}

func TestFileOfferRoundTrip(t *testing.T) {
	in := FileOffer{
		FileID:   "550e8400-e29b-41d4-a716-446655440000",
		FromID:   "alice",
		FromNick: "Alice",
		ToID:     "bob",
		FileSize: 1 << 33,
		FileName: "holiday.tar.gz",
	}
	frame := EncodeFileOffer(11, in)
	h, body := splitFrame(t, frame)
	assert.Equal(t, MsgFileOffer, h.Type)
	require.Len(t, body, FileOfferSize)

	out, err := DecodeFileOffer(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileOfferResponseRoundTrip(t *testing.T) {
	in := FileOfferResponse{
		FileID:  "550e8400-e29b-41d4-a716-446655440000",
		Result:  FileOfferBusy,
		Message: "Target offline",
	}
	frame := EncodeFileOfferResponse(2, in)
	_, body := splitFrame(t, frame)

	out, err := DecodeFileOfferResponse(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileDataRoundTrip(t *testing.T) {
	chunk := []byte("sixteen kilobytes of pretend payload")
	hdr := FileDataHeader{
		FileID: "550e8400-e29b-41d4-a716-446655440000",
		Offset: 16384,
	}
	frame := EncodeFileData(8, hdr, chunk)
	h, body := splitFrame(t, frame)
	assert.Equal(t, MsgFileData, h.Type)
	require.Len(t, body, FileDataHeaderSize+len(chunk))

	out, err := DecodeFileDataHeader(body)
	require.NoError(t, err)
	assert.Equal(t, hdr.FileID, out.FileID)
	assert.Equal(t, hdr.Offset, out.Offset)
	assert.Equal(t, uint32(len(chunk)), out.ChunkSize)
	assert.Equal(t, chunk, body[FileDataHeaderSize:])

	assert.Equal(t, hdr.FileID, FileIDFromBody(body))
}

func TestFileIDFromBody_Short(t *testing.T) {
	assert.Equal(t, "", FileIDFromBody(make([]byte, FileIDSize-1)))
}

func TestEncodeRaw(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	frame := EncodeRaw(MsgFileDataAck, 77, body)
	h, out := splitFrame(t, frame)
	assert.Equal(t, MsgFileDataAck, h.Type)
	assert.Equal(t, uint32(77), h.Sequence)
	assert.Equal(t, body, out)
}

func TestStringField_MaxWidth(t *testing.T) {
	// A field filled to its full width with no trailing NUL in the payload
	// decodes as width-1 bytes.
	full := strings.Repeat("x", NicknameSize+10)
	frame := EncodeLoginRequest(0, "alice", full)
	_, body := splitFrame(t, frame)

	req, err := DecodeLoginRequest(body)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", NicknameSize-1), req.Nickname)

	// Even if a peer packs all width bytes without the NUL, the decoder
	// bounds the field.
	copy(body[ClientIDSize:ClientIDSize+NicknameSize], strings.Repeat("y", NicknameSize))
	req, err = DecodeLoginRequest(body)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", NicknameSize-1), req.Nickname)
}

func TestDecode_ShortBodies(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]byte) error
		size int
	}{
		{"login request", func(b []byte) error { _, err := DecodeLoginRequest(b); return err }, LoginRequestSize},
		{"login response", func(b []byte) error { _, err := DecodeLoginResponse(b); return err }, LoginResponseSize},
		{"chat", func(b []byte) error { _, err := DecodeChatMessage(b); return err }, ChatMessageSize},
		{"file offer", func(b []byte) error { _, err := DecodeFileOffer(b); return err }, FileOfferSize},
		{"file offer response", func(b []byte) error { _, err := DecodeFileOfferResponse(b); return err }, FileOfferResponseSize},
		{"file data header", func(b []byte) error { _, err := DecodeFileDataHeader(b); return err }, FileDataHeaderSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(make([]byte, tt.size-1)), ErrShortBody)
			assert.NoError(t, tt.fn(make([]byte, tt.size)))
		})
	}
}

func TestBigEndianOnTheWire(t *testing.T) {
	frame := EncodeLoginResponse(0x01020304, 0x0a0b0c0d, "")
	// sequence bytes in network order
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, frame[12:16])
	// result field immediately after the header
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c, 0x0d}, frame[16:20])
	// magic
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, frame[0:4])
}
