package interpreter

import (
	"fmt"

	"rexx/interpreter-go/pkg/activity"
	"rexx/interpreter-go/pkg/envelope"
	"rexx/interpreter-go/pkg/memory"
)

// SaveImage flattens r, its code and everything the code references into a
// compiled image. Resolved external targets are not part of the image.
func (i *Interpreter) SaveImage(r *Routine) ([]byte, error) {
	var image []byte
	err := i.Do(func(*activity.Activity) error {
		data, err := envelope.Flatten(r)
		if err != nil {
			return fmt.Errorf("save routine %s: %w", r.Name(), err)
		}
		image = data
		return nil
	})
	return image, err
}

// LoadImage restores a routine from a compiled image and registers it. A
// corrupt image yields a *FatalError.
func (i *Interpreter) LoadImage(data []byte) (*Routine, error) {
	var routine *Routine
	err := i.Do(func(*activity.Activity) error {
		r, err := i.restoreRoutine(data)
		if err != nil {
			return err
		}
		i.RegisterRoutine(r)
		routine = r
		return nil
	})
	return routine, err
}

// ImageInfo summarises a compiled image.
type ImageInfo struct {
	Header  envelope.Header
	Routine string
	Objects int
	Bytes   uint64
	// Types counts the restored objects by type name.
	Types map[string]int
}

// InspectImage restores data without registering it and reports what the
// image holds.
func (i *Interpreter) InspectImage(data []byte) (ImageInfo, error) {
	hdr, _, err := envelope.ReadHeader(data)
	if err != nil {
		return ImageInfo{}, &FatalError{Err: err}
	}
	info := ImageInfo{Header: hdr, Types: make(map[string]int)}
	err = i.Do(func(*activity.Activity) error {
		r, err := i.restoreRoutine(data)
		if err != nil {
			return err
		}
		info.Routine = r.Name()
		memory.Walk(r, memory.ReasonRestoreImage, func(obj memory.Object) bool {
			h := obj.ObjectHeader()
			info.Objects++
			info.Bytes += uint64(h.Size())
			info.Types[h.Tag().String()]++
			return true
		})
		return nil
	})
	return info, err
}
