// Package serialframe decodes the OpenIris serial frame protocol.
//
// Each frame on the wire is
//
//	FF A0 FF A1   header
//	len           payload length, uint16 little-endian
//	payload       len bytes of JPEG, passed through untouched
//
// The stream has no alignment guarantee, so decoding starts with a scan for
// the header. Decode works on a buffer already in memory; Reader pulls
// bytes from a serial port and resynchronises as it goes.
package serialframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Header marks the start of every frame
var Header = []byte{0xFF, 0xA0, 0xFF, 0xA1}

const (
	HeaderSize = 4
	LengthSize = 2

	// MaxPayload is the largest payload a uint16 length can describe
	MaxPayload = math.MaxUint16
)

var (
	// ErrNeedMore means the buffer holds no complete frame yet. It is a
	// control outcome, not a parse failure: read more and try again.
	ErrNeedMore = errors.New("serialframe: need more data")

	// ErrIncompleteFrame means the payload came up short even after reading
	// the declared length from the transport
	ErrIncompleteFrame = errors.New("incomplete jpeg frame")
)

// scan locates the first header in buf. On success it returns the declared
// payload length and the offset where the payload starts. On ErrNeedMore,
// keep is the offset of the first byte that could still begin a frame;
// everything before it can be dropped.
func scan(buf []byte) (length, start, keep int, err error) {
	idx := bytes.Index(buf, Header)
	if idx < 0 {
		// the tail may hold the first bytes of a header split across reads
		keep = len(buf) - (HeaderSize - 1)
		if keep < 0 {
			keep = 0
		}
		return 0, 0, keep, ErrNeedMore
	}

	start = idx + HeaderSize + LengthSize
	if len(buf) < start {
		return 0, 0, idx, ErrNeedMore
	}

	length = int(binary.LittleEndian.Uint16(buf[idx+HeaderSize:]))
	return length, start, 0, nil
}

// Decode extracts the first complete frame from buf. consumed counts every
// byte up to the end of the payload, including any garbage before the
// header. The payload aliases buf.
func Decode(buf []byte) (payload []byte, consumed int, err error) {
	length, start, _, err := scan(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(buf)-start < length {
		return nil, 0, ErrNeedMore
	}
	return buf[start : start+length], start + length, nil
}

// Encode frames payload for the wire
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d byte frame limit", len(payload), MaxPayload)
	}
	out := make([]byte, 0, HeaderSize+LengthSize+len(payload))
	out = append(out, Header...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	return append(out, payload...), nil
}
