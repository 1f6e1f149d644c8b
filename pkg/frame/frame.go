// Package frame implements the wire codec for the chat protocol: a
// self-describing, length-prefixed frame with no magic, no version, and no
// checksum. Framing is solely the three declared lengths.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// LengthFieldSize is the width in bytes of each of the three length
	// prefixes (handler, header, payload).
	LengthFieldSize = 8

	// HeaderSize is the total size of the three length prefixes.
	HeaderSize = 3 * LengthFieldSize

	// MaxFieldSize is the hard cap on any single field's declared length,
	// per field, as recommended by the protocol (16 MiB).
	MaxFieldSize = 16 << 20
)

// Frame is the on-wire unit: a handler tag plus opaque header and payload
// bytes. Field order on the wire is handler-length, header-length,
// payload-length, then handler bytes, header bytes, payload bytes, all
// lengths as unsigned 64-bit big-endian integers.
type Frame struct {
	Handler string
	Header  []byte
	Payload []byte
}

// New builds a Frame from a handler tag, header and payload.
func New(handler string, header, payload []byte) Frame {
	return Frame{Handler: handler, Header: header, Payload: payload}
}

// Size returns the total wire size of the encoded frame.
func (f Frame) Size() int {
	return HeaderSize + len(f.Handler) + len(f.Header) + len(f.Payload)
}

// Encode appends the wire representation of f to dst and returns the
// extended slice.
func (f Frame) Encode(dst []byte) []byte {
	var lens [HeaderSize]byte
	binary.BigEndian.PutUint64(lens[0:8], uint64(len(f.Handler)))
	binary.BigEndian.PutUint64(lens[8:16], uint64(len(f.Header)))
	binary.BigEndian.PutUint64(lens[16:24], uint64(len(f.Payload)))

	dst = append(dst, lens[:]...)
	dst = append(dst, f.Handler...)
	dst = append(dst, f.Header...)
	dst = append(dst, f.Payload...)
	return dst
}

// WriteTo writes the encoded frame to w.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	buf := f.Encode(make([]byte, 0, f.Size()))
	n, err := w.Write(buf)
	return int64(n), err
}

// Decode attempts to decode a single frame from the head of buf. It returns
// the decoded frame, the number of bytes consumed, and whether a whole
// frame was available. An error is returned only for a malformed frame
// (a declared length that exceeds MaxFieldSize); a buffer that simply
// doesn't yet hold a whole frame returns ok == false, err == nil so the
// caller can keep buffering.
func Decode(buf []byte) (f Frame, consumed int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, false, nil
	}

	handlerLen := binary.BigEndian.Uint64(buf[0:8])
	headerLen := binary.BigEndian.Uint64(buf[8:16])
	payloadLen := binary.BigEndian.Uint64(buf[16:24])

	if handlerLen > MaxFieldSize || headerLen > MaxFieldSize || payloadLen > MaxFieldSize {
		return Frame{}, 0, false, fmt.Errorf("%w: declared field length exceeds %d bytes", ErrMalformedFrame, MaxFieldSize)
	}

	total := HeaderSize + int(handlerLen) + int(headerLen) + int(payloadLen)
	if len(buf) < total {
		return Frame{}, 0, false, nil
	}

	body := buf[HeaderSize:total]
	handler := decodeUTF8(body[:handlerLen])
	header := cloneBytes(body[handlerLen : handlerLen+headerLen])
	payload := cloneBytes(body[handlerLen+headerLen : handlerLen+headerLen+payloadLen])

	return Frame{Handler: handler, Header: header, Payload: payload}, total, true, nil
}

// DecodeAll decodes every whole frame found in buf, in order, and returns
// them along with the number of trailing bytes that did not form a whole
// frame (to be retained by the caller for the next read). buf must not
// contain a malformed frame; Decode's error is returned immediately if one
// is found.
func DecodeAll(buf []byte) (frames []Frame, remainder int, err error) {
	off := 0
	for {
		f, n, ok, derr := Decode(buf[off:])
		if derr != nil {
			return frames, len(buf) - off, derr
		}
		if !ok {
			return frames, len(buf) - off, nil
		}
		frames = append(frames, f)
		off += n
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
