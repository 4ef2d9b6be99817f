package server

import (
	"time"

	"github.com/parley-im/parley"
	"github.com/parley-im/parley/protocol"
)

// dispatcher is the send surface the router drives. The event loop
// implements it; tests substitute a recorder.
type dispatcher interface {
	// send queues a frame for connID, reporting refusal. The dispatcher
	// itself disconnects a target that cannot accept the frame.
	send(connID int64, frame []byte) bool
	// queueDisconnect schedules a deferred disconnect.
	queueDisconnect(connID int64)
}

// router maps each inbound message to its policy. It is stateless apart
// from its collaborators, never blocks and never performs I/O directly.
type router struct {
	roster    *Roster
	files     *FileTable
	disp      dispatcher
	logger    parley.Logger
	maxOnline int

	// now is the epoch-seconds clock, swappable in tests.
	now func() uint64
}

func newRouter(roster *Roster, files *FileTable, disp dispatcher, logger parley.Logger, maxOnline int) *router {
	return &router{
		roster:    roster,
		files:     files,
		disp:      disp,
		logger:    logger,
		maxOnline: maxOnline,
		now:       func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// onMessage dispatches one complete frame from connID. The body slice is
// only valid for the duration of the call.
func (r *router) onMessage(connID int64, h protocol.Header, body []byte) {
	// Anonymous connections may only send heartbeats and logins.
	if h.Type != protocol.MsgHeartbeatReq && h.Type != protocol.MsgLoginReq {
		if s, ok := r.roster.Get(connID); !ok || !s.Online {
			r.logger.Warn("message from anonymous connection", "type", h.Type, "conn", connID)
			return
		}
	}

	switch h.Type {
	case protocol.MsgHeartbeatReq:
		r.handleHeartbeat(connID, h, body)
	case protocol.MsgLoginReq:
		r.handleLogin(connID, h, body)
	case protocol.MsgLogoutReq:
		r.handleLogout(connID, h, body)
	case protocol.MsgChat:
		r.handleChat(connID, h, body)
	case protocol.MsgUserListReq:
		r.handleUserListRequest(connID, h)
	case protocol.MsgFileOffer:
		r.handleFileOffer(connID, h, body)
	case protocol.MsgFileOfferRsp:
		r.handleFileOfferResponse(connID, h, body)
	case protocol.MsgFileData, protocol.MsgFileDataAck:
		r.handleFileData(connID, h, body)
	default:
		r.logger.Info("unknown message type", "type", h.Type, "conn", connID)
	}
}

func (r *router) handleHeartbeat(connID int64, h protocol.Header, body []byte) {
	if len(body) != 0 {
		r.logger.Warn("invalid heartbeat body", "len", len(body), "conn", connID)
		return
	}
	r.roster.TouchHeartbeat(connID)
	r.disp.send(connID, protocol.EncodeHeartbeatResponse(h.Sequence))
}

func (r *router) handleLogin(connID int64, h protocol.Header, body []byte) {
	reject := func(result uint32, message string) {
		r.disp.send(connID, protocol.EncodeLoginResponse(h.Sequence, result, message))
	}

	req, err := protocol.DecodeLoginRequest(body)
	if err != nil {
		reject(protocol.LoginInvalidParam, "Invalid parameters")
		return
	}
	if req.ClientID == "" || req.Nickname == "" {
		reject(protocol.LoginInvalidParam, "Invalid parameters")
		return
	}
	if r.roster.IsClientIDOnline(req.ClientID, connID) {
		reject(protocol.LoginAlreadyOnline, "Client already online")
		return
	}
	if r.roster.IsNicknameOnline(req.Nickname, connID) {
		reject(protocol.LoginNicknameTaken, "Nickname taken")
		return
	}
	if r.roster.OnlineCount() >= r.maxOnline {
		reject(protocol.LoginServerFull, "Server full")
		return
	}
	if !r.roster.BindIdentity(connID, req.ClientID, req.Nickname) {
		reject(protocol.LoginInvalidParam, "Invalid parameters")
		return
	}

	r.disp.send(connID, protocol.EncodeLoginResponse(h.Sequence, protocol.LoginSuccess, "OK"))
	r.logger.Info("login", "conn", connID, "clientId", req.ClientID, "nickname", req.Nickname)
	r.broadcastUserList()
}

func (r *router) handleLogout(connID int64, _ protocol.Header, body []byte) {
	if len(body) != 0 {
		r.logger.Warn("invalid logout body", "len", len(body), "conn", connID)
	}
	r.disp.queueDisconnect(connID)
}

func (r *router) handleChat(connID int64, h protocol.Header, body []byte) {
	msg, err := protocol.DecodeChatMessage(body)
	if err != nil {
		r.logger.Warn("invalid chat message", "len", len(body), "conn", connID)
		return
	}

	sender, ok := r.roster.Get(connID)
	if !ok || !sender.Online {
		r.logger.Warn("chat from anonymous connection", "conn", connID)
		return
	}

	timestamp := msg.Timestamp
	if timestamp == 0 {
		timestamp = r.now()
	}
	scope := protocol.ChatGroup
	if msg.Scope == protocol.ChatPrivate {
		scope = protocol.ChatPrivate
	}

	// Re-encode with the server-validated sender identity; clients cannot
	// impersonate each other.
	frame := protocol.EncodeChatMessage(h.Sequence, protocol.ChatMessage{
		Scope:     scope,
		FromID:    sender.ClientID,
		FromNick:  sender.Nickname,
		ToID:      msg.ToID,
		Timestamp: timestamp,
		Text:      msg.Text,
	})

	if scope == protocol.ChatGroup {
		for _, target := range r.roster.OnlineSnapshot() {
			if target.ConnID == connID {
				continue
			}
			r.disp.send(target.ConnID, frame)
		}
		return
	}

	if msg.ToID == "" {
		r.logger.Warn("private chat missing target", "conn", connID)
		return
	}
	targetConn, ok := r.roster.ConnByClientID(msg.ToID)
	if !ok {
		r.logger.Info("private chat target offline", "toId", msg.ToID, "conn", connID)
		return
	}
	r.disp.send(targetConn, frame)
}

func (r *router) handleUserListRequest(connID int64, h protocol.Header) {
	sender, ok := r.roster.Get(connID)
	if !ok || !sender.Online {
		return
	}
	r.disp.send(connID, protocol.EncodeUserListResponse(h.Sequence, r.userList()))
}

func (r *router) handleFileOffer(connID int64, h protocol.Header, body []byte) {
	offer, err := protocol.DecodeFileOffer(body)
	if err != nil {
		r.logger.Warn("invalid file offer", "len", len(body), "conn", connID)
		return
	}

	sender, ok := r.roster.Get(connID)
	if !ok || !sender.Online {
		r.logger.Warn("file offer from anonymous connection", "conn", connID)
		return
	}

	reject := func(result uint32, message string) {
		r.disp.send(connID, protocol.EncodeFileOfferResponse(h.Sequence, protocol.FileOfferResponse{
			FileID:  offer.FileID,
			Result:  result,
			Message: message,
		}))
	}

	if offer.FileID == "" {
		reject(protocol.FileOfferDecline, "Invalid file id")
		return
	}
	if offer.ToID == "" {
		reject(protocol.FileOfferDecline, "Target required")
		return
	}
	targetConn, ok := r.roster.ConnByClientID(offer.ToID)
	if !ok {
		reject(protocol.FileOfferBusy, "Target offline")
		return
	}

	frame := protocol.EncodeFileOffer(h.Sequence, protocol.FileOffer{
		FileID:   offer.FileID,
		FromID:   sender.ClientID,
		FromNick: sender.Nickname,
		ToID:     offer.ToID,
		FileSize: offer.FileSize,
		FileName: offer.FileName,
	})
	r.disp.send(targetConn, frame)
	r.files.Insert(offer.FileID, connID)
}

func (r *router) handleFileOfferResponse(connID int64, h protocol.Header, body []byte) {
	rsp, err := protocol.DecodeFileOfferResponse(body)
	if err != nil {
		r.logger.Warn("invalid file offer response", "len", len(body), "conn", connID)
		return
	}
	if rsp.FileID == "" {
		r.logger.Warn("file offer response missing fileId", "conn", connID)
		return
	}

	session, ok := r.files.Get(rsp.FileID)
	if !ok {
		r.logger.Warn("file offer response for unknown session", "fileId", rsp.FileID, "conn", connID)
		return
	}
	if session.receiverConn != receiverUnassigned && session.receiverConn != connID {
		r.logger.Warn("file offer response from unexpected connection",
			"fileId", rsp.FileID, "conn", connID)
		return
	}

	if rsp.Result == protocol.FileOfferAccept {
		if session.receiverConn == receiverUnassigned {
			r.files.BindReceiver(rsp.FileID, connID)
		}
	} else {
		r.files.Erase(rsp.FileID)
	}

	r.disp.send(session.senderConn, protocol.EncodeFileOfferResponse(h.Sequence, rsp))
}

func (r *router) handleFileData(connID int64, h protocol.Header, body []byte) {
	fileID := protocol.FileIDFromBody(body)
	if fileID == "" {
		r.logger.Warn("file data missing fileId", "conn", connID)
		return
	}

	target, ok := r.files.Relay(fileID, connID)
	if !ok {
		r.logger.Warn("file data for unknown session", "fileId", fileID, "conn", connID)
		return
	}
	if target == receiverUnassigned {
		r.logger.Warn("file data before accept", "fileId", fileID, "conn", connID)
		return
	}

	r.disp.send(target, protocol.EncodeRaw(h.Type, h.Sequence, body))
}

// userList snapshots the online roster as wire records.
func (r *router) userList() []protocol.UserInfo {
	snapshot := r.roster.OnlineSnapshot()
	users := make([]protocol.UserInfo, 0, len(snapshot))
	for _, s := range snapshot {
		users = append(users, protocol.UserInfo{ClientID: s.ClientID, Nickname: s.Nickname})
	}
	return users
}

// broadcastUserList pushes the current online roster to every online
// client, sequence zero. Sends happen from a snapshot, outside the roster
// lock.
func (r *router) broadcastUserList() {
	snapshot := r.roster.OnlineSnapshot()
	if len(snapshot) == 0 {
		return
	}
	users := make([]protocol.UserInfo, 0, len(snapshot))
	for _, s := range snapshot {
		users = append(users, protocol.UserInfo{ClientID: s.ClientID, Nickname: s.Nickname})
	}
	frame := protocol.EncodeUserListResponse(0, users)
	for _, s := range snapshot {
		r.disp.send(s.ConnID, frame)
	}
}
