package client

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/parley-im/parley/protocol"
)

// fileChunkSize is how much of a file travels in one data frame.
const fileChunkSize = 16 * 1024

type outgoingTransfer struct {
	fileID string
	path   string
	toID   string
	size   uint64
}

type incomingTransfer struct {
	fileID   string
	file     *os.File
	path     string
	size     uint64
	received uint64
}

// transferTable tracks offers awaiting an answer and transfers in flight,
// on both sides of the relay.
type transferTable struct {
	mu       sync.Mutex
	offers   map[string]protocol.FileOffer
	outgoing map[string]*outgoingTransfer
	incoming map[string]*incomingTransfer
}

func (t *transferTable) init() {
	t.offers = make(map[string]protocol.FileOffer)
	t.outgoing = make(map[string]*outgoingTransfer)
	t.incoming = make(map[string]*incomingTransfer)
}

func (t *transferTable) rememberOffer(offer protocol.FileOffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers[offer.FileID] = offer
}

func (t *transferTable) takeOffer(fileID string) (protocol.FileOffer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	offer, ok := t.offers[fileID]
	if ok {
		delete(t.offers, fileID)
	}
	return offer, ok
}

// failAll closes out every in-flight transfer, notifying via done.
func (t *transferTable) failAll(done func(string, bool, bool, string), message string) {
	t.mu.Lock()
	var incoming []*incomingTransfer
	var outgoing []*outgoingTransfer
	for _, in := range t.incoming {
		incoming = append(incoming, in)
	}
	for _, out := range t.outgoing {
		outgoing = append(outgoing, out)
	}
	t.incoming = make(map[string]*incomingTransfer)
	t.outgoing = make(map[string]*outgoingTransfer)
	t.offers = make(map[string]protocol.FileOffer)
	t.mu.Unlock()

	for _, in := range incoming {
		_ = in.file.Close()
		if done != nil {
			done(in.fileID, true, false, message)
		}
	}
	for _, out := range outgoing {
		if done != nil {
			done(out.fileID, false, false, message)
		}
	}
}

// OfferFile proposes sending the file at path to the peer toID. The
// generated file id is returned; streaming starts once the peer accepts.
func (c *Client) OfferFile(path, toID string) (string, error) {
	if toID == "" {
		return "", errors.New("file offer needs a target")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return "", errors.Errorf("%s is a directory", path)
	}

	fileID := uuid.NewString()
	clientID, nickname := c.Identity()

	c.transfers.mu.Lock()
	c.transfers.outgoing[fileID] = &outgoingTransfer{
		fileID: fileID,
		path:   path,
		toID:   toID,
		size:   uint64(info.Size()),
	}
	c.transfers.mu.Unlock()

	err = c.send(protocol.EncodeFileOffer(c.nextSeq(), protocol.FileOffer{
		FileID:   fileID,
		FromID:   clientID,
		FromNick: nickname,
		ToID:     toID,
		FileSize: uint64(info.Size()),
		FileName: filepath.Base(path),
	}))
	if err != nil {
		c.transfers.mu.Lock()
		delete(c.transfers.outgoing, fileID)
		c.transfers.mu.Unlock()
		return "", err
	}
	return fileID, nil
}

// AcceptOffer answers a received offer, writing the file into dir. The
// transfer completes through OnTransferProgress / OnTransferDone.
func (c *Client) AcceptOffer(fileID, dir string) error {
	offer, ok := c.transfers.takeOffer(fileID)
	if !ok {
		return errors.Errorf("no pending offer %s", fileID)
	}

	name := filepath.Base(offer.FileName)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "download"
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}

	c.transfers.mu.Lock()
	c.transfers.incoming[fileID] = &incomingTransfer{
		fileID: fileID,
		file:   file,
		path:   path,
		size:   offer.FileSize,
	}
	c.transfers.mu.Unlock()

	err = c.send(protocol.EncodeFileOfferResponse(c.nextSeq(), protocol.FileOfferResponse{
		FileID:  fileID,
		Result:  protocol.FileOfferAccept,
		Message: "OK",
	}))
	if err != nil {
		c.transfers.mu.Lock()
		delete(c.transfers.incoming, fileID)
		c.transfers.mu.Unlock()
		_ = file.Close()
		return err
	}

	// an empty file never sees a data frame
	if offer.FileSize == 0 {
		c.finishIncoming(fileID, true, "")
	}
	return nil
}

// DeclineOffer refuses a received offer.
func (c *Client) DeclineOffer(fileID, reason string) error {
	c.transfers.takeOffer(fileID)
	if reason == "" {
		reason = "Declined"
	}
	return c.send(protocol.EncodeFileOfferResponse(c.nextSeq(), protocol.FileOfferResponse{
		FileID:  fileID,
		Result:  protocol.FileOfferDecline,
		Message: reason,
	}))
}

// handleOfferResponse reacts to the peer's answer to an offer we sent.
func (c *Client) handleOfferResponse(rsp protocol.FileOfferResponse) {
	c.transfers.mu.Lock()
	out, ok := c.transfers.outgoing[rsp.FileID]
	if ok && rsp.Result != protocol.FileOfferAccept {
		delete(c.transfers.outgoing, rsp.FileID)
	}
	c.transfers.mu.Unlock()
	if !ok {
		return
	}

	if rsp.Result != protocol.FileOfferAccept {
		if c.opts.onTransferDone != nil {
			c.opts.onTransferDone(rsp.FileID, false, false, rsp.Message)
		}
		return
	}

	go c.streamFile(out)
}

// streamFile pushes the file through the relay in fixed-size chunks.
func (c *Client) streamFile(out *outgoingTransfer) {
	finish := func(ok bool, message string) {
		c.transfers.mu.Lock()
		_, present := c.transfers.outgoing[out.fileID]
		delete(c.transfers.outgoing, out.fileID)
		c.transfers.mu.Unlock()
		if !present {
			// already closed out, e.g. by a dropped connection
			return
		}
		if c.opts.onTransferDone != nil {
			c.opts.onTransferDone(out.fileID, false, ok, message)
		}
	}

	file, err := os.Open(out.path)
	if err != nil {
		finish(false, err.Error())
		return
	}
	defer file.Close()

	buf := make([]byte, fileChunkSize)
	var offset uint64
	for {
		n, err := file.Read(buf)
		if n > 0 {
			sendErr := c.send(protocol.EncodeFileData(c.nextSeq(), protocol.FileDataHeader{
				FileID: out.fileID,
				Offset: offset,
			}, buf[:n]))
			if sendErr != nil {
				finish(false, sendErr.Error())
				return
			}
			offset += uint64(n)
			if c.opts.onTransferProgress != nil {
				c.opts.onTransferProgress(out.fileID, offset, out.size, false)
			}
		}
		if err == io.EOF {
			finish(true, "")
			return
		}
		if err != nil {
			finish(false, err.Error())
			return
		}
	}
}

// handleFileData lands one relayed chunk in the receiving file.
func (c *Client) handleFileData(body []byte) {
	hdr, err := protocol.DecodeFileDataHeader(body)
	if err != nil {
		c.logger.Warn("bad file data header", "error", err)
		return
	}
	payload := body[protocol.FileDataHeaderSize:]
	if uint32(len(payload)) < hdr.ChunkSize {
		c.logger.Warn("truncated file chunk", "fileId", hdr.FileID,
			"want", hdr.ChunkSize, "got", len(payload))
		return
	}
	payload = payload[:hdr.ChunkSize]

	c.transfers.mu.Lock()
	in, ok := c.transfers.incoming[hdr.FileID]
	c.transfers.mu.Unlock()
	if !ok {
		c.logger.Debug("file data for unknown transfer", "fileId", hdr.FileID)
		return
	}

	if _, err := in.file.WriteAt(payload, int64(hdr.Offset)); err != nil {
		c.finishIncoming(hdr.FileID, false, err.Error())
		return
	}

	in.received += uint64(len(payload))
	if c.opts.onTransferProgress != nil {
		c.opts.onTransferProgress(hdr.FileID, in.received, in.size, true)
	}
	if in.received >= in.size {
		c.finishIncoming(hdr.FileID, true, "")
	}
}

func (c *Client) finishIncoming(fileID string, ok bool, message string) {
	c.transfers.mu.Lock()
	in, found := c.transfers.incoming[fileID]
	if found {
		delete(c.transfers.incoming, fileID)
	}
	c.transfers.mu.Unlock()
	if !found {
		return
	}
	_ = in.file.Close()
	if ok {
		c.logger.Debug("file received", "fileId", fileID, "path", in.path)
	}
	if c.opts.onTransferDone != nil {
		c.opts.onTransferDone(fileID, true, ok, message)
	}
}
