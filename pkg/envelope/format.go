// Package envelope flattens a graph of managed objects into a self-contained
// byte image and restores such images into a heap. It also provides the
// on-disk cache of compiled images and macrospace library archives.
//
// Image layout (little endian):
//
//	header   magic "RXIM" | version u32 | payload length u32 | flags u16 | crc16 u16
//	payload  reserved u32 | record...
//	record   tag u16 | flags u8 | pad u8 | size u32 | body length u32 | body
//
// References inside a body are payload offsets of the target record. Offset
// zero is the empty reference; the first record, the root, starts at
// offset 4.
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

const (
	Magic   = "RXIM"
	Version = 1

	HeaderSize       = 16
	recordHeaderSize = 12
	firstRecord      = 4
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// ErrBadImage is matched by every *FormatError.
var ErrBadImage = errors.New("envelope: bad image")

// FormatError reports an image that cannot be restored.
type FormatError struct {
	Offset int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("bad image at offset %d: %s", e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBadImage, e.Err}
	}
	return []error{ErrBadImage}
}

func formatErrorf(offset int, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// Header is the fixed prefix of every image.
type Header struct {
	Version uint32
	Length  uint32
	Flags   uint16
	CRC     uint16
}

func putHeader(buf []byte, hdr Header) {
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], hdr.Version)
	binary.LittleEndian.PutUint32(buf[8:12], hdr.Length)
	binary.LittleEndian.PutUint16(buf[12:14], hdr.Flags)
	binary.LittleEndian.PutUint16(buf[14:16], hdr.CRC)
}

// ReadHeader validates the header of data and returns it together with the
// payload it describes.
func ReadHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, formatErrorf(0, "truncated header (%d bytes)", len(data))
	}
	if string(data[0:4]) != Magic {
		return Header{}, nil, formatErrorf(0, "bad magic %q", data[0:4])
	}
	hdr := Header{
		Version: binary.LittleEndian.Uint32(data[4:8]),
		Length:  binary.LittleEndian.Uint32(data[8:12]),
		Flags:   binary.LittleEndian.Uint16(data[12:14]),
		CRC:     binary.LittleEndian.Uint16(data[14:16]),
	}
	if hdr.Version != Version {
		return hdr, nil, formatErrorf(4, "unsupported version %d", hdr.Version)
	}
	if uint64(hdr.Length) != uint64(len(data)-HeaderSize) {
		return hdr, nil, formatErrorf(8, "payload length %d does not match %d bytes present", hdr.Length, len(data)-HeaderSize)
	}
	payload := data[HeaderSize:]
	if sum := crc16.Checksum(payload, crcTable); sum != hdr.CRC {
		return hdr, nil, formatErrorf(14, "checksum mismatch (stored %#04x, computed %#04x)", hdr.CRC, sum)
	}
	if len(payload) < firstRecord {
		return hdr, nil, formatErrorf(HeaderSize, "payload too short")
	}
	return hdr, payload, nil
}
