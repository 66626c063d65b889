package msgrpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const renderLimit = 256

// StreamDecoder turns an arbitrarily chunked byte stream into a sequence of
// decoded values. Feed appends raw bytes; Next yields the next complete value
// or reports that more input is needed. The sequence of values produced is
// independent of how the stream was chunked.
type StreamDecoder struct {
	buf []byte
}

func NewStreamDecoder() *StreamDecoder { return &StreamDecoder{} }

// Feed appends a chunk of raw stream bytes. The chunk is copied, so the
// caller may reuse its buffer.
func (d *StreamDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next decodes the next complete value from the buffered stream. It returns
// ok=false when the buffer holds only a partial value; feeding more bytes
// makes progress. A non-nil error means the stream is corrupt at the current
// position and cannot be resynchronized.
func (d *StreamDecoder) Next() (any, bool, error) {
	if len(d.buf) == 0 {
		return nil, false, nil
	}
	reader := bytes.NewReader(d.buf)
	dec := msgpack.NewDecoder(reader)
	value, err := dec.DecodeInterfaceLoose()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("msgrpc: decode stream: %w", err)
	}
	consumed := len(d.buf) - reader.Len()
	d.buf = d.buf[:copy(d.buf, d.buf[consumed:])]
	return value, true, nil
}

// Buffered reports how many undecoded bytes the decoder is holding.
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// encodeRequest serializes a request envelope. The null correlation id marks
// a request whose response will be discarded unrouted.
func encodeRequest(id uint32, method string, args []Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(requestKind); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(uint64(id)); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(method); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(args)); err != nil {
		return nil, err
	}
	for _, arg := range args {
		if err := encodeValue(enc, arg); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// renderValue formats a decoded value for log output, truncated so a large
// payload cannot flood the log.
func renderValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > renderLimit {
		s = s[:renderLimit] + "..."
	}
	return s
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
