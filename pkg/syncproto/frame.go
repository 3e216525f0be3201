package syncproto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedFrame is returned when a frame's varint-prefixed length
// fields don't decode.
var ErrMalformedFrame = errors.New("syncproto: malformed frame")

// Frame is one wire message: a 1-byte kind tag, a request id (0 for
// messages that aren't part of a request/response pair: RootAnnounce,
// Interest, InterestAck, Heartbeat), and a JSON-encoded body. Request
// ids let responses be matched out of order on a single bidirectional
// stream (spec.md §4.8).
type Frame struct {
	Kind      Kind
	RequestID uint64
	Body      []byte
}

// Encode marshals payload as JSON and wraps it as a Frame of the given
// kind and request id.
func Encode(kind Kind, requestID uint64, payload any) (Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, RequestID: requestID, Body: body}, nil
}

// Decode unmarshals a frame's body into a value of type T.
func Decode[T any](f Frame) (T, error) {
	var v T
	err := json.Unmarshal(f.Body, &v)
	return v, err
}

// WriteFrame writes the kind tag, then RequestID and len(Body) as
// protobuf varints, then Body.
func WriteFrame(w io.Writer, f Frame) error {
	buf := []byte{byte(f.Kind)}
	buf = protowire.AppendVarint(buf, f.RequestID)
	buf = protowire.AppendVarint(buf, uint64(len(f.Body)))
	buf = append(buf, f.Body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads and deframes exactly one frame from r. It does not
// interpret Kind; an unrecognized tag is returned as-is for the caller
// to reject.
func ReadFrame(r io.Reader) (Frame, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Frame{}, err
	}

	requestID, err := readVarint(r)
	if err != nil {
		return Frame{}, err
	}
	length, err := readVarint(r)
	if err != nil {
		return Frame{}, err
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	return Frame{Kind: Kind(tag[0]), RequestID: requestID, Body: body}, nil
}

// readVarint reads one byte at a time (the stream gives no advance
// notice of a varint's length) and feeds the growing buffer to
// protowire.ConsumeVarint until it succeeds, bails as malformed, or
// exceeds the maximum varint width.
func readVarint(r io.Reader) (uint64, error) {
	var buf []byte
	var b [1]byte
	for len(buf) < binary.MaxVarintLen64 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		buf = append(buf, b[0])
		if v, n := protowire.ConsumeVarint(buf); n >= 0 {
			return v, nil
		} else if n != protowire.ErrCodeTruncated {
			return 0, ErrMalformedFrame
		}
	}
	return 0, fmt.Errorf("syncproto: varint exceeds %d bytes: %w", binary.MaxVarintLen64, ErrMalformedFrame)
}
