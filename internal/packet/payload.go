// Package packet encodes the application payload carried between vehicles:
// the send timestamp and the sender's handle, padded to the configured size.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the number of meaningful bytes at the front of every payload.
const HeaderLen = 12

// ErrShortPayload is returned when a payload cannot hold the header.
var ErrShortPayload = errors.New("payload shorter than header")

// Payload is the decoded header of a received packet.
type Payload struct {
	SendNs uint64
	Sender int32
}

// Encode builds a payload of size bytes.  The header is little-endian
// [u64 send time ns][i32 sender handle]; the remainder is zero.
func Encode(sendNs uint64, sender int32, size int) ([]byte, error) {
	if size < HeaderLen {
		return nil, fmt.Errorf("packet size %d: %w", size, ErrShortPayload)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], sendNs)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(sender))
	return buf, nil
}

// Decode extracts the header from a received payload.  Bytes past the header
// are ignored.
func Decode(buf []byte) (Payload, error) {
	if len(buf) < HeaderLen {
		return Payload{}, fmt.Errorf("got %d bytes: %w", len(buf), ErrShortPayload)
	}
	return Payload{
		SendNs: binary.LittleEndian.Uint64(buf[0:8]),
		Sender: int32(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}
