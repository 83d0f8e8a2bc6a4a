// Package wire defines the framing spoken on the lifo_write and
// lifo_read endpoints.
//
// Request header (8 bytes, big-endian):
//
//	uint8  op        // OpWrite, OpRead or OpCancel
//	uint8  flags     // FlagNonBlock for OpRead
//	uint16 reserved  // zero
//	uint32 length    // OpWrite: payload bytes that follow
//	                 // OpRead:  maximum bytes to return
//
// Response header (8 bytes, big-endian):
//
//	uint8  status    // Status
//	uint8  flags     // FlagTruncated for OpWrite
//	uint16 reserved  // zero
//	uint32 length    // write: bytes written; read: payload bytes that follow
//
// Every OpWrite and OpRead gets exactly one response, in request order.
// A client may pipeline up to MaxPipelined requests.  OpCancel
// interrupts the oldest unanswered request and gets no response.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the size of both request and response headers.
const HeaderSize = 8

// MaxFrameSize bounds a single payload on the wire.
const MaxFrameSize = 64 << 20

// Op identifies a request.
type Op uint8

const (
	OpWrite  Op = 0x01
	OpRead   Op = 0x02
	OpCancel Op = 0x03
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpCancel:
		return "cancel"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(o))
	}
}

// FlagNonBlock asks for a non-blocking read.
const FlagNonBlock uint8 = 0x01

// FlagTruncated marks a write response whose payload was longer than
// the stack capacity and was cut to it.  Length still counts the bytes
// committed.
const FlagTruncated uint8 = 0x01

// MaxPipelined bounds the requests a connection may have unanswered.
const MaxPipelined = 16

// Request is a decoded request frame.
type Request struct {
	Op      Op
	Flags   uint8
	Length  uint32
	Payload []byte // OpWrite only
}

// NonBlocking reports whether FlagNonBlock is set.
func (r *Request) NonBlocking() bool { return r.Flags&FlagNonBlock != 0 }

// Truncated reports whether FlagTruncated is set.
func (r *Response) Truncated() bool { return r.Flags&FlagTruncated != 0 }

// Response is a decoded response frame.
type Response struct {
	Status  Status
	Flags   uint8
	Length  uint32
	Payload []byte // read responses only
}

// ── Encoding ─────────────────────────────────────────────────────────

// WriteRequest encodes req to w.  For OpWrite the length is taken from
// the payload.
func WriteRequest(w io.Writer, req *Request) error {
	length := req.Length
	if req.Op == OpWrite {
		if len(req.Payload) > MaxFrameSize {
			return &FrameError{Reason: fmt.Sprintf("payload of %d bytes exceeds %d", len(req.Payload), MaxFrameSize)}
		}
		length = uint32(len(req.Payload))
	}

	var hdr [HeaderSize]byte
	hdr[0] = byte(req.Op)
	hdr[1] = req.Flags
	binary.BigEndian.PutUint32(hdr[4:8], length)

	if req.Op != OpWrite || len(req.Payload) == 0 {
		_, err := w.Write(hdr[:])
		return err
	}
	buf := make([]byte, 0, HeaderSize+len(req.Payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, req.Payload...)
	_, err := w.Write(buf)
	return err
}

// WriteResponse encodes resp to w as a single write.
func WriteResponse(w io.Writer, resp *Response) error {
	length := resp.Length
	if resp.Payload != nil {
		length = uint32(len(resp.Payload))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(resp.Payload))
	buf[0] = byte(resp.Status)
	buf[1] = resp.Flags
	binary.BigEndian.PutUint32(buf[4:8], length)
	buf = append(buf, resp.Payload...)
	_, err := w.Write(buf)
	return err
}

// ── Decoding ─────────────────────────────────────────────────────────

// ReadRequest decodes the next request from r.  It returns io.EOF only
// when r ends cleanly on a frame boundary.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	req := &Request{
		Op:     Op(hdr[0]),
		Flags:  hdr[1],
		Length: binary.BigEndian.Uint32(hdr[4:8]),
	}
	switch req.Op {
	case OpWrite:
		payload, err := readPayload(r, req.Length)
		if err != nil {
			return nil, err
		}
		req.Payload = payload
	case OpRead, OpCancel:
	default:
		return nil, &FrameError{Reason: "unknown " + req.Op.String()}
	}
	return req, nil
}

// ReadResponse decodes the response to a request of the given op.
func ReadResponse(r io.Reader, op Op) (*Response, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	resp := &Response{
		Status: Status(hdr[0]),
		Flags:  hdr[1],
		Length: binary.BigEndian.Uint32(hdr[4:8]),
	}
	if op == OpRead && resp.Status == StatusOK {
		payload, err := readPayload(r, resp.Length)
		if err != nil {
			return nil, err
		}
		resp.Payload = payload
	}
	return resp, nil
}

func readPayload(r io.Reader, n uint32) ([]byte, error) {
	if n > MaxFrameSize {
		return nil, &FrameError{Reason: fmt.Sprintf("payload of %d bytes exceeds %d", n, MaxFrameSize)}
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// FrameError reports a malformed frame.  The connection cannot be
// resynchronised after one.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string { return "wire: " + e.Reason }
