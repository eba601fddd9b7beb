package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"

	"rexx/interpreter-go/pkg/memory"
)

type fixup struct {
	at     int
	target memory.Object
}

// flattener holds the state of one Flatten call. ids is the identity table
// built by the discovery walk; offsets is filled as records are written.
type flattener struct {
	ids     map[memory.Object]int
	order   []memory.Object
	offsets []uint32
	buf     []byte
	fixups  []fixup
}

// Flatten encodes root and everything reachable from it, weak references
// included, into a single image. Shared objects and cycles are written once.
func Flatten(root memory.Object) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("envelope: flatten nil root")
	}
	f := &flattener{ids: make(map[memory.Object]int)}
	f.discover(root)

	f.buf = make([]byte, HeaderSize+firstRecord, HeaderSize+firstRecord+64*len(f.order))
	f.offsets = make([]uint32, len(f.order))
	for idx, obj := range f.order {
		if err := f.writeRecord(idx, obj); err != nil {
			return nil, err
		}
	}
	for _, fix := range f.fixups {
		idx, ok := f.ids[fix.target]
		if !ok {
			return nil, fmt.Errorf("envelope: %s references an object its type did not enumerate", fix.target.ObjectHeader().Tag())
		}
		binary.LittleEndian.PutUint32(f.buf[fix.at:], f.offsets[idx])
	}

	payload := f.buf[HeaderSize:]
	putHeader(f.buf, Header{
		Version: Version,
		Length:  uint32(len(payload)),
		CRC:     crc16.Checksum(payload, crcTable),
	})
	return f.buf, nil
}

func (f *flattener) discover(root memory.Object) {
	f.enter(root)
	for next := 0; next < len(f.order); next++ {
		memory.LiveGeneral(f.order[next], memory.ReasonSaveImage, f.enter)
	}
}

func (f *flattener) enter(obj memory.Object) {
	if obj == nil {
		return
	}
	if _, ok := f.ids[obj]; ok {
		return
	}
	f.ids[obj] = len(f.order)
	f.order = append(f.order, obj)
}

func (f *flattener) writeRecord(idx int, obj memory.Object) error {
	hdr := obj.ObjectHeader()
	info, ok := memory.Lookup(hdr.Tag())
	if !ok {
		return fmt.Errorf("envelope: object with unregistered tag %d", hdr.Tag())
	}
	if info.Flatten == nil {
		return fmt.Errorf("envelope: %s cannot be flattened", info.Name)
	}
	start := len(f.buf)
	f.offsets[idx] = uint32(start - HeaderSize)

	var rec [recordHeaderSize]byte
	binary.LittleEndian.PutUint16(rec[0:2], uint16(hdr.Tag()))
	rec[2] = byte(hdr.Flags() & memory.FlagNoRefs)
	size := hdr.Size()
	if size == 0 {
		size = memory.HeaderSize
	}
	binary.LittleEndian.PutUint32(rec[4:8], size)
	f.buf = append(f.buf, rec[:]...)

	info.Flatten(obj, f)
	bodyLen := len(f.buf) - start - recordHeaderSize
	binary.LittleEndian.PutUint32(f.buf[start+8:start+12], uint32(bodyLen))
	return nil
}

func (f *flattener) Ref(obj memory.Object) {
	if obj == nil {
		f.Uint32(0)
		return
	}
	f.fixups = append(f.fixups, fixup{at: len(f.buf), target: obj})
	f.Uint32(0)
}

func (f *flattener) Uint32(v uint32) {
	f.buf = binary.LittleEndian.AppendUint32(f.buf, v)
}

func (f *flattener) Int64(v int64) {
	f.buf = binary.LittleEndian.AppendUint64(f.buf, uint64(v))
}

func (f *flattener) Bool(v bool) {
	if v {
		f.buf = append(f.buf, 1)
		return
	}
	f.buf = append(f.buf, 0)
}

func (f *flattener) String(s string) {
	f.Uint32(uint32(len(s)))
	f.buf = append(f.buf, s...)
}
