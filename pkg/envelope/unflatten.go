package envelope

import (
	"encoding/binary"
	"errors"

	"rexx/interpreter-go/pkg/memory"
)

type pendingRef struct {
	from   int
	offset uint32
	accept func(memory.Object) bool
	set    func(memory.Object)
}

// Unflatten restores the image in data into h and returns its root. The
// restored graph is isomorphic to the flattened one. On any error nothing is
// adopted into the heap.
func Unflatten(h *memory.Heap, data []byte) (memory.Object, error) {
	_, payload, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(payload[0:firstRecord]) != 0 {
		return nil, formatErrorf(HeaderSize, "reserved word is not zero")
	}

	byOffset := make(map[uint32]memory.Object)
	tags := make(map[uint32]memory.TypeTag)
	var batch []memory.Adoption
	var refs []pendingRef

	pos := firstRecord
	for pos < len(payload) {
		if len(payload)-pos < recordHeaderSize {
			return nil, formatErrorf(HeaderSize+pos, "truncated record header")
		}
		tag := memory.TypeTag(binary.LittleEndian.Uint16(payload[pos : pos+2]))
		size := binary.LittleEndian.Uint32(payload[pos+4 : pos+8])
		bodyLen := binary.LittleEndian.Uint32(payload[pos+8 : pos+12])
		info, ok := memory.Lookup(tag)
		if !ok || info.Unflatten == nil {
			return nil, formatErrorf(HeaderSize+pos, "unknown type tag %d", tag)
		}
		bodyStart := pos + recordHeaderSize
		if uint64(bodyLen) > uint64(len(payload)-bodyStart) {
			return nil, formatErrorf(HeaderSize+pos, "%s body of %d bytes overruns payload", info.Name, bodyLen)
		}
		dec := &decoder{body: payload[bodyStart : bodyStart+int(bodyLen)], record: pos}
		obj := decodeRecord(info, dec)
		if dec.err == nil && dec.pos != len(dec.body) {
			dec.err = formatErrorf(HeaderSize+bodyStart+dec.pos, "%d trailing bytes in %s body", len(dec.body)-dec.pos, info.Name)
		}
		if dec.err != nil {
			return nil, dec.err
		}
		if obj == nil {
			return nil, formatErrorf(HeaderSize+pos, "%s decoded to nothing", info.Name)
		}
		byOffset[uint32(pos)] = obj
		tags[uint32(pos)] = tag
		batch = append(batch, memory.Adoption{Obj: obj, Tag: tag, Size: size})
		refs = append(refs, dec.refs...)
		pos = bodyStart + int(bodyLen)
	}
	root, ok := byOffset[firstRecord]
	if !ok {
		return nil, formatErrorf(HeaderSize+firstRecord, "image holds no objects")
	}

	for _, ref := range refs {
		if ref.offset == 0 {
			ref.set(nil)
			continue
		}
		target, ok := byOffset[ref.offset]
		if !ok {
			return nil, formatErrorf(HeaderSize+ref.from, "dangling reference to offset %d", ref.offset)
		}
		if ref.accept != nil && !ref.accept(target) {
			return nil, formatErrorf(HeaderSize+ref.from, "reference to offset %d names a %s of the wrong type", ref.offset, tags[ref.offset])
		}
		ref.set(target)
	}

	if err := h.Adopt(batch); err != nil {
		return nil, &FormatError{Offset: 0, Reason: "heap cannot hold image", Err: err}
	}
	return root, nil
}

// decodeRecord runs the type's restore function, turning a panic from a
// malformed body into a format error.
func decodeRecord(info *memory.TypeInfo, dec *decoder) (obj memory.Object) {
	defer func() {
		if r := recover(); r != nil {
			obj = nil
			if dec.err == nil {
				dec.err = formatErrorf(HeaderSize+dec.record, "%s body rejected: %v", info.Name, r)
			}
		}
	}()
	return info.Unflatten(dec)
}

type decoder struct {
	body   []byte
	pos    int
	record int
	refs   []pendingRef
	err    error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.body)-d.pos < n {
		d.err = formatErrorf(HeaderSize+d.record, "truncated body: need %d bytes, have %d", n, len(d.body)-d.pos)
		return nil
	}
	out := d.body[d.pos : d.pos+n]
	d.pos += n
	return out
}

func (d *decoder) Ref(set func(memory.Object)) {
	d.RefChecked(nil, set)
}

func (d *decoder) RefChecked(accept func(memory.Object) bool, set func(memory.Object)) {
	raw := d.take(4)
	if raw == nil {
		return
	}
	d.refs = append(d.refs, pendingRef{
		from:   d.record,
		offset: binary.LittleEndian.Uint32(raw),
		accept: accept,
		set:    set,
	})
}

func (d *decoder) Count() int {
	n := d.Uint32()
	if d.err == nil && uint64(n)*4 > uint64(len(d.body)-d.pos) {
		d.err = formatErrorf(HeaderSize+d.record, "count %d exceeds remaining body", n)
		return 0
	}
	return int(n)
}

func (d *decoder) Uint32() uint32 {
	raw := d.take(4)
	if raw == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(raw)
}

func (d *decoder) Int64() int64 {
	raw := d.take(8)
	if raw == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(raw))
}

func (d *decoder) Bool() bool {
	raw := d.take(1)
	return raw != nil && raw[0] != 0
}

func (d *decoder) String() string {
	n := d.Uint32()
	raw := d.take(int(n))
	if raw == nil {
		return ""
	}
	return string(raw)
}

func (d *decoder) Fail(err error) {
	if d.err != nil || err == nil {
		return
	}
	var fe *FormatError
	if errors.As(err, &fe) {
		d.err = fe
		return
	}
	d.err = &FormatError{Offset: HeaderSize + d.record, Reason: "invalid body", Err: err}
}
