package protocol

import "encoding/binary"

// LoginRequest asks the server to bind an identity to the connection.
type LoginRequest struct {
	ClientID string
	Nickname string
}

// LoginResponse reports the outcome of a login attempt.
type LoginResponse struct {
	Result  uint32
	Message string
}

// ChatMessage carries one group or private text message.
type ChatMessage struct {
	Scope     byte
	FromID    string
	FromNick  string
	ToID      string
	Timestamp uint64
	Text      string
}

// UserInfo is one roster entry in a user-list response.
type UserInfo struct {
	ClientID string
	Nickname string
}

// FileOffer proposes a file transfer to a specific peer.
type FileOffer struct {
	FileID   string
	FromID   string
	FromNick string
	ToID     string
	FileSize uint64
	FileName string
}

// FileOfferResponse accepts or rejects a pending file offer.
type FileOfferResponse struct {
	FileID  string
	Result  uint32
	Message string
}

// FileDataHeader prefixes every file data chunk.
type FileDataHeader struct {
	FileID    string
	Offset    uint64
	ChunkSize uint32
}

// EncodeHeartbeatRequest builds an empty-body heartbeat request frame.
func EncodeHeartbeatRequest(sequence uint32) []byte {
	return newFrame(MsgHeartbeatReq, sequence, 0)
}

// EncodeHeartbeatResponse builds the heartbeat reply, echoing the sequence.
func EncodeHeartbeatResponse(sequence uint32) []byte {
	return newFrame(MsgHeartbeatRsp, sequence, 0)
}

// EncodeLogoutRequest builds an empty-body logout frame.
func EncodeLogoutRequest(sequence uint32) []byte {
	return newFrame(MsgLogoutReq, sequence, 0)
}

// EncodeUserListRequest builds an empty-body user-list request frame.
func EncodeUserListRequest(sequence uint32) []byte {
	return newFrame(MsgUserListReq, sequence, 0)
}

// EncodeLoginRequest builds a login request frame.
func EncodeLoginRequest(sequence uint32, clientID, nickname string) []byte {
	frame := newFrame(MsgLoginReq, sequence, LoginRequestSize)
	body := frame[HeaderSize:]
	putString(body[0:ClientIDSize], clientID)
	putString(body[ClientIDSize:ClientIDSize+NicknameSize], nickname)
	return frame
}

// DecodeLoginRequest parses a login request body.
func DecodeLoginRequest(body []byte) (LoginRequest, error) {
	if len(body) < LoginRequestSize {
		return LoginRequest{}, ErrShortBody
	}
	return LoginRequest{
		ClientID: cstring(body[0:ClientIDSize]),
		Nickname: cstring(body[ClientIDSize : ClientIDSize+NicknameSize]),
	}, nil
}

// EncodeLoginResponse builds a login response frame.
func EncodeLoginResponse(sequence uint32, result uint32, message string) []byte {
	frame := newFrame(MsgLoginRsp, sequence, LoginResponseSize)
	body := frame[HeaderSize:]
	binary.BigEndian.PutUint32(body[0:4], result)
	putString(body[4:4+LoginMessageSize], message)
	return frame
}

// DecodeLoginResponse parses a login response body.
func DecodeLoginResponse(body []byte) (LoginResponse, error) {
	if len(body) < LoginResponseSize {
		return LoginResponse{}, ErrShortBody
	}
	return LoginResponse{
		Result:  binary.BigEndian.Uint32(body[0:4]),
		Message: cstring(body[4 : 4+LoginMessageSize]),
	}, nil
}

// EncodeChatMessage builds a chat frame.
func EncodeChatMessage(sequence uint32, msg ChatMessage) []byte {
	frame := newFrame(MsgChat, sequence, ChatMessageSize)
	body := frame[HeaderSize:]
	body[0] = msg.Scope
	off := 1
	putString(body[off:off+ClientIDSize], msg.FromID)
	off += ClientIDSize
	putString(body[off:off+NicknameSize], msg.FromNick)
	off += NicknameSize
	putString(body[off:off+ClientIDSize], msg.ToID)
	off += ClientIDSize
	binary.BigEndian.PutUint64(body[off:off+8], msg.Timestamp)
	off += 8
	putString(body[off:off+ChatTextSize], msg.Text)
	return frame
}

// DecodeChatMessage parses a chat body.
func DecodeChatMessage(body []byte) (ChatMessage, error) {
	if len(body) < ChatMessageSize {
		return ChatMessage{}, ErrShortBody
	}
	msg := ChatMessage{Scope: body[0]}
	off := 1
	msg.FromID = cstring(body[off : off+ClientIDSize])
	off += ClientIDSize
	msg.FromNick = cstring(body[off : off+NicknameSize])
	off += NicknameSize
	msg.ToID = cstring(body[off : off+ClientIDSize])
	off += ClientIDSize
	msg.Timestamp = binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	msg.Text = cstring(body[off : off+ChatTextSize])
	return msg, nil
}

// EncodeUserListResponse builds a user-list frame: a count followed by that
// many fixed-width user records.
func EncodeUserListResponse(sequence uint32, users []UserInfo) []byte {
	frame := newFrame(MsgUserListRsp, sequence, 4+len(users)*UserInfoSize)
	body := frame[HeaderSize:]
	binary.BigEndian.PutUint32(body[0:4], uint32(len(users)))
	off := 4
	for _, u := range users {
		putString(body[off:off+ClientIDSize], u.ClientID)
		putString(body[off+ClientIDSize:off+UserInfoSize], u.Nickname)
		off += UserInfoSize
	}
	return frame
}

// DecodeUserListResponse parses a user-list body.
func DecodeUserListResponse(body []byte) ([]UserInfo, error) {
	if len(body) < 4 {
		return nil, ErrShortBody
	}
	count := binary.BigEndian.Uint32(body[0:4])
	if uint64(len(body)-4) < uint64(count)*UserInfoSize {
		return nil, ErrShortBody
	}
	users := make([]UserInfo, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		users = append(users, UserInfo{
			ClientID: cstring(body[off : off+ClientIDSize]),
			Nickname: cstring(body[off+ClientIDSize : off+UserInfoSize]),
		})
		off += UserInfoSize
	}
	return users, nil
}

// EncodeFileOffer builds a file offer frame.
func EncodeFileOffer(sequence uint32, offer FileOffer) []byte {
	frame := newFrame(MsgFileOffer, sequence, FileOfferSize)
	body := frame[HeaderSize:]
	putString(body[0:FileIDSize], offer.FileID)
	off := FileIDSize
	putString(body[off:off+ClientIDSize], offer.FromID)
	off += ClientIDSize
	putString(body[off:off+NicknameSize], offer.FromNick)
	off += NicknameSize
	putString(body[off:off+ClientIDSize], offer.ToID)
	off += ClientIDSize
	binary.BigEndian.PutUint64(body[off:off+8], offer.FileSize)
	off += 8
	putString(body[off:off+FileNameSize], offer.FileName)
	return frame
}

// DecodeFileOffer parses a file offer body.
func DecodeFileOffer(body []byte) (FileOffer, error) {
	if len(body) < FileOfferSize {
		return FileOffer{}, ErrShortBody
	}
	offer := FileOffer{FileID: cstring(body[0:FileIDSize])}
	off := FileIDSize
	offer.FromID = cstring(body[off : off+ClientIDSize])
	off += ClientIDSize
	offer.FromNick = cstring(body[off : off+NicknameSize])
	off += NicknameSize
	offer.ToID = cstring(body[off : off+ClientIDSize])
	off += ClientIDSize
	offer.FileSize = binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	offer.FileName = cstring(body[off : off+FileNameSize])
	return offer, nil
}

// EncodeFileOfferResponse builds a file offer response frame.
func EncodeFileOfferResponse(sequence uint32, rsp FileOfferResponse) []byte {
	frame := newFrame(MsgFileOfferRsp, sequence, FileOfferResponseSize)
	body := frame[HeaderSize:]
	putString(body[0:FileIDSize], rsp.FileID)
	binary.BigEndian.PutUint32(body[FileIDSize:FileIDSize+4], rsp.Result)
	putString(body[FileIDSize+4:FileOfferResponseSize], rsp.Message)
	return frame
}

// DecodeFileOfferResponse parses a file offer response body.
func DecodeFileOfferResponse(body []byte) (FileOfferResponse, error) {
	if len(body) < FileOfferResponseSize {
		return FileOfferResponse{}, ErrShortBody
	}
	return FileOfferResponse{
		FileID:  cstring(body[0:FileIDSize]),
		Result:  binary.BigEndian.Uint32(body[FileIDSize : FileIDSize+4]),
		Message: cstring(body[FileIDSize+4 : FileOfferResponseSize]),
	}, nil
}

// EncodeFileData builds a file data frame: the chunk header followed by the
// chunk payload.
func EncodeFileData(sequence uint32, hdr FileDataHeader, chunk []byte) []byte {
	frame := newFrame(MsgFileData, sequence, FileDataHeaderSize+len(chunk))
	body := frame[HeaderSize:]
	putString(body[0:FileIDSize], hdr.FileID)
	binary.BigEndian.PutUint64(body[FileIDSize:FileIDSize+8], hdr.Offset)
	binary.BigEndian.PutUint32(body[FileIDSize+8:FileDataHeaderSize], uint32(len(chunk)))
	copy(body[FileDataHeaderSize:], chunk)
	return frame
}

// DecodeFileDataHeader parses the chunk header at the front of a file data
// body. The payload follows at body[FileDataHeaderSize:].
func DecodeFileDataHeader(body []byte) (FileDataHeader, error) {
	if len(body) < FileDataHeaderSize {
		return FileDataHeader{}, ErrShortBody
	}
	return FileDataHeader{
		FileID:    cstring(body[0:FileIDSize]),
		Offset:    binary.BigEndian.Uint64(body[FileIDSize : FileIDSize+8]),
		ChunkSize: binary.BigEndian.Uint32(body[FileIDSize+8 : FileDataHeaderSize]),
	}, nil
}

// EncodeRaw re-frames an already-decoded body verbatim under a fresh header.
// The relay path uses it to forward file frames without interpreting them.
func EncodeRaw(msgType uint16, sequence uint32, body []byte) []byte {
	frame := newFrame(msgType, sequence, len(body))
	copy(frame[HeaderSize:], body)
	return frame
}

// FileIDFromBody extracts the file id that prefixes file data and ack
// bodies. Returns "" when the body is too short to carry one.
func FileIDFromBody(body []byte) string {
	if len(body) < FileIDSize {
		return ""
	}
	return cstring(body[0:FileIDSize])
}
