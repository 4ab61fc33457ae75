package network

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/lib/checksum"
	"github.com/pyropy/renderfarm/rpc/protocol"
)

// handleFileStream serves one file request. The request is handed to the
// event stream and the stream waits for its response up to the request
// timeout.
func (c *Controller) handleFileStream(s p2pnet.Stream) {
	defer s.Close()

	from := s.Conn().RemotePeer()
	_ = s.SetReadDeadline(time.Now().Add(c.opts.RequestTimeout))

	var req protocol.FileRequest
	if err := json.NewDecoder(s).Decode(&req); err != nil {
		c.log.Warnw("exchange", "status", "malformed file request", "peer", from, "error", err)
		_ = s.Reset()
		return
	}

	c.log.Infow("exchange", "event", "FileRequest", "peer", from, "file", req.FileName)

	h := NewResponseHandle()
	c.events.Push(InboundRequest{From: from, FileName: req.FileName, Handle: h})

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	reply, ok := h.wait(ctx)
	if !ok {
		reply = fileReply{err: "no response from peer"}
	}

	_ = s.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	enc := json.NewEncoder(s)

	if reply.err != "" {
		if err := enc.Encode(protocol.FileResponseHeader{Error: reply.err}); err != nil {
			c.log.Warnw("exchange", "status", "response failed", "peer", from, "error", err)
		}
		return
	}

	hdr := protocol.FileResponseHeader{
		OK:       true,
		Size:     int64(len(reply.data)),
		CheckSum: checksum.CalculateCheckSum(reply.data),
	}
	if err := enc.Encode(hdr); err != nil {
		c.log.Warnw("exchange", "status", "response failed", "peer", from, "error", err)
		_ = s.Reset()
		return
	}

	if _, err := s.Write(reply.data); err != nil {
		c.log.Warnw("exchange", "status", "response failed", "peer", from, "error", err)
		_ = s.Reset()
		return
	}

	c.log.Infow("exchange", "status", "file sent", "peer", from, "file", req.FileName, "bytes", hdr.Size)
}

func (c *Controller) fetch(ctx context.Context, p peer.ID, fileName string) ([]byte, error) {
	s, err := c.host.NewStream(ctx, p, protocol.FileProtocol)
	if err != nil {
		return nil, streamError(ctx, p, err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	if err := json.NewEncoder(s).Encode(protocol.FileRequest{FileName: fileName}); err != nil {
		_ = s.Reset()
		return nil, streamError(ctx, p, err)
	}
	if err := s.CloseWrite(); err != nil {
		_ = s.Reset()
		return nil, streamError(ctx, p, err)
	}

	dec := json.NewDecoder(s)
	var hdr protocol.FileResponseHeader
	if err := dec.Decode(&hdr); err != nil {
		_ = s.Reset()
		return nil, streamError(ctx, p, err)
	}

	if !hdr.OK {
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, fileName, hdr.Error)
	}

	if hdr.Size < 0 || (c.opts.MaxFileSize > 0 && hdr.Size > c.opts.MaxFileSize) {
		_ = s.Reset()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, fileName, hdr.Size)
	}

	data, err := readBody(dec, s, hdr.Size)
	if err != nil {
		_ = s.Reset()
		return nil, streamError(ctx, p, err)
	}

	if !checksum.Verify(data, hdr.CheckSum) {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrRejected, fileName)
	}

	return data, nil
}

// readBody reads the size bytes following a header decoded by dec from r.
// json.Encoder terminates the header with a single newline, which is not
// part of the body.
func readBody(dec *json.Decoder, r io.Reader, size int64) ([]byte, error) {
	br := bufio.NewReader(io.MultiReader(dec.Buffered(), r))

	b, err := br.ReadByte()
	if err != nil && size > 0 {
		return nil, err
	}
	if err == nil && b != '\n' {
		_ = br.UnreadByte()
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, err
	}

	return data, nil
}

func streamError(ctx context.Context, p peer.ID, err error) error {
	if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, p, err)
	}

	return fmt.Errorf("%w: %s: %v", ErrUnreachable, p, err)
}
