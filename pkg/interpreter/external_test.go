package interpreter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sigurn/crc16"

	"rexx/interpreter-go/pkg/envelope"
	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

const helperProgram = `
routines:
  - name: main
    body:
      - assign: {name: greeting, value: "hello"}
      - say: {op: " ", left: {var: greeting}, right: {call: helper, args: ["world"]}}
      - loop: {count: "2", control: n, body: [{say: {var: n}}]}
      - return: {call: length, args: [{var: greeting}]}
`

func TestImageRoundTripRunsTheSame(t *testing.T) {
	first, firstOut := newTestInterpreter(t, Options{})
	first.RegisterFunction("helper", func(a *Activation, args []memory.Object) (memory.Object, error) {
		return runtime.NewString(a.Interpreter().Heap(), "<"+runtime.Text(args[0])+">"), nil
	})
	routines := mustLoad(t, first, helperProgram)
	want := mustRun(t, first, routines[0])

	image, err := first.SaveImage(routines[0])
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	second, secondOut := newTestInterpreter(t, Options{})
	second.RegisterFunction("helper", func(a *Activation, args []memory.Object) (memory.Object, error) {
		return runtime.NewString(a.Interpreter().Heap(), "["+runtime.Text(args[0])+"]"), nil
	})
	restored, err := second.LoadImage(image)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	got := mustRun(t, second, restored)

	if got != want || want.Value != "5" {
		t.Fatalf("results differ: first %+v, restored %+v", want, got)
	}
	if firstOut.String() != "hello <world>\n1\n2\n" {
		t.Fatalf("first output = %q", firstOut.String())
	}
	// The helper binding of the first interpreter is not carried over.
	if secondOut.String() != "hello [world]\n1\n2\n" {
		t.Fatalf("restored output = %q", secondOut.String())
	}
}

func TestCorruptImageIsFatal(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, helperProgram)
	image, err := interp.SaveImage(routines[0])
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	image[len(image)-1] ^= 0xff

	other, _ := newTestInterpreter(t, Options{})
	_, err = other.LoadImage(image)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if !errors.Is(err, envelope.ErrBadImage) {
		t.Fatalf("expected ErrBadImage in %v", err)
	}
}

// retarget points the last reference of the first record tagged tag at
// target and reseals the image checksum.
func retarget(t *testing.T, image []byte, tag memory.TypeTag, target uint32) []byte {
	t.Helper()
	out := append([]byte(nil), image...)
	payload := out[envelope.HeaderSize:]
	for pos := 4; pos+12 <= len(payload); {
		bodyLen := int(binary.LittleEndian.Uint32(payload[pos+8 : pos+12]))
		end := pos + 12 + bodyLen
		if memory.TypeTag(binary.LittleEndian.Uint16(payload[pos:pos+2])) == tag {
			binary.LittleEndian.PutUint32(payload[end-4:end], target)
			sum := crc16.Checksum(payload, crc16.MakeTable(crc16.CRC16_CCITT_FALSE))
			binary.LittleEndian.PutUint16(out[14:16], sum)
			return out
		}
		pos = end
	}
	t.Fatalf("no %s record in image", tag)
	return nil
}

func TestMistypedReferenceIsFatal(t *testing.T) {
	image := saveRoutine(t, `
routines:
  - name: main
    body:
      - return: "x"
`)
	// Offset 4 is the Routine record, which is not an expression.
	image = retarget(t, image, runtime.TagReturn, 4)

	interp, _ := newTestInterpreter(t, Options{})
	r, err := interp.LoadImage(image)
	var fatal *FatalError
	if !errors.As(err, &fatal) || !errors.Is(err, envelope.ErrBadImage) {
		t.Fatalf("expected a fatal bad image error, got %v", err)
	}
	if r != nil {
		t.Fatalf("routine restored from a mistyped image")
	}
	if _, ok := interp.Routine("MAIN"); ok {
		t.Fatalf("mistyped image registered MAIN")
	}
}

func saveRoutine(t *testing.T, source string) []byte {
	t.Helper()
	interp, _ := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, source)
	image, err := interp.SaveImage(routines[0])
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	return image
}

const shoutProgram = `
routines:
  - name: shout
    body:
      - return: {op: "||", left: {call: arg, args: ["1"]}, right: "!!"}
`

const callShoutProgram = `
routines:
  - name: main
    body:
      - say: {call: shout, args: ["hey"]}
      - say: {call: shout, args: ["you"]}
`

func TestCompiledImageInSearchPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shout"+envelope.ImageExt), saveRoutine(t, shoutProgram), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	interp, out := newTestInterpreter(t, Options{SearchPath: []string{dir}})
	routines := mustLoad(t, interp, callShoutProgram)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "hey!!\nyou!!\n" {
		t.Fatalf("output = %q", got)
	}
	if _, ok := interp.Routine("shout"); !ok {
		t.Fatalf("restored routine was not registered")
	}
}

func TestMacrospaceLibrary(t *testing.T) {
	dir := t.TempDir()
	var lib bytes.Buffer
	if err := envelope.WriteMacrospace(&lib, []envelope.Macro{{Name: "shout", Image: saveRoutine(t, shoutProgram)}}); err != nil {
		t.Fatalf("WriteMacrospace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tools"+envelope.MacrospaceExt), lib.Bytes(), 0o644); err != nil {
		t.Fatalf("write library: %v", err)
	}
	interp, out := newTestInterpreter(t, Options{SearchPath: []string{dir}})
	routines := mustLoad(t, interp, callShoutProgram)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "hey!!\nyou!!\n" {
		t.Fatalf("output = %q", got)
	}
}

// addWasm exports add(i64, i64) -> i64.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
}

func TestWasmExternalRoutine(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "add.wasm"), addWasm, 0o644); err != nil {
		t.Fatalf("write wasm: %v", err)
	}
	interp, out := newTestInterpreter(t, Options{SearchPath: []string{dir}})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: {call: add, args: ["2", "40"]}
      - say: {call: add, args: ["-5", "3"]}
      - say: {call: add, args: ["1"]}
`)
	_, err := interp.Run(routines[0])
	expectCondition(t, err, ConditionSyntax, ErrIncorrectCall)
	if got := out.String(); got != "42\n-2\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestInspectImage(t *testing.T) {
	image := saveRoutine(t, helperProgram)
	interp, _ := newTestInterpreter(t, Options{})
	info, err := interp.InspectImage(image)
	if err != nil {
		t.Fatalf("InspectImage: %v", err)
	}
	if info.Routine != "MAIN" || info.Header.Version != envelope.Version {
		t.Fatalf("info = %+v", info)
	}
	if info.Types["Routine"] != 1 || info.Types["Code"] != 1 || info.Types["CallSite"] != 2 {
		t.Fatalf("types = %v", info.Types)
	}
	if info.Objects == 0 || info.Bytes == 0 {
		t.Fatalf("empty inspection: %+v", info)
	}
	if _, ok := interp.Routine("main"); ok {
		t.Fatalf("inspected routine should not be registered")
	}
}
