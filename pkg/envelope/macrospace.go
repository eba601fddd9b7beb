package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/blakesmith/ar"
)

// MacrospaceExt is the file extension of macrospace libraries.
const MacrospaceExt = ".rxlib"

const maxMemberName = 15

// Macro is one routine image stored in a macrospace library.
type Macro struct {
	Name  string
	Image []byte
}

// WriteMacrospace writes macros as an ar archive, one member per routine.
func WriteMacrospace(w io.Writer, macros []Macro) error {
	seen := make(map[string]struct{}, len(macros))
	aw := ar.NewWriter(w)
	if err := aw.WriteGlobalHeader(); err != nil {
		return fmt.Errorf("envelope: write macrospace header: %w", err)
	}
	for _, macro := range macros {
		name := strings.ToUpper(macro.Name)
		if name == "" || len(name) > maxMemberName || strings.ContainsAny(name, "/ ") {
			return fmt.Errorf("envelope: macro name %q must be 1-%d characters without spaces or slashes", macro.Name, maxMemberName)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("envelope: duplicate macro %s", name)
		}
		seen[name] = struct{}{}
		if _, _, err := ReadHeader(macro.Image); err != nil {
			return fmt.Errorf("envelope: macro %s: %w", name, err)
		}
		hdr := &ar.Header{
			Name:    name,
			ModTime: time.Unix(0, 0),
			Mode:    0o644,
			Size:    int64(len(macro.Image)),
		}
		if err := aw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("envelope: write macro %s: %w", name, err)
		}
		if _, err := aw.Write(macro.Image); err != nil {
			return fmt.Errorf("envelope: write macro %s: %w", name, err)
		}
	}
	return nil
}

// ReadMacrospace reads every member of a macrospace archive. Members are
// checked to be well formed images but are not restored.
func ReadMacrospace(r io.Reader) ([]Macro, error) {
	reader := ar.NewReader(r)
	var macros []Macro
	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return macros, nil
		}
		if err != nil {
			return nil, fmt.Errorf("envelope: read macrospace: %w", err)
		}
		name := strings.TrimRight(strings.TrimSpace(hdr.Name), "/")
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, reader, hdr.Size); err != nil {
			return nil, fmt.Errorf("envelope: read macro %s: %w", name, err)
		}
		if _, _, err := ReadHeader(buf.Bytes()); err != nil {
			return nil, fmt.Errorf("envelope: macro %s: %w", name, err)
		}
		macros = append(macros, Macro{Name: name, Image: buf.Bytes()})
	}
}

// LoadMacrospace reads the macrospace library at path.
func LoadMacrospace(path string) ([]Macro, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadMacrospace(file)
}
