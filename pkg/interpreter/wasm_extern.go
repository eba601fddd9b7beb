package interpreter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

const wasmExt = ".wasm"

// wasmHost owns the WebAssembly runtime shared by every module the
// interpreter loads.
type wasmHost struct {
	ctx context.Context

	mu      sync.Mutex
	runtime wazero.Runtime
	modules map[string]*wasmModule
}

type wasmModule struct {
	name string
	mod  api.Module
	// Instances are single-threaded; calls into one module are serialised.
	mu sync.Mutex
}

func newWasmHost(ctx context.Context) *wasmHost {
	return &wasmHost{ctx: ctx, modules: make(map[string]*wasmModule)}
}

// instantiate compiles and instantiates bin under name once. It does not
// touch the managed heap and runs with the execution lock released.
func (h *wasmHost) instantiate(name string, bin []byte) (*wasmModule, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.modules[name]; ok {
		return existing, nil
	}
	if h.runtime == nil {
		h.runtime = wazero.NewRuntime(h.ctx)
	}
	mod, err := h.runtime.InstantiateWithConfig(h.ctx, bin, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}
	module := &wasmModule{name: name, mod: mod}
	h.modules[name] = module
	return module, nil
}

func (h *wasmHost) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runtime == nil {
		return nil
	}
	err := h.runtime.Close(h.ctx)
	h.runtime = nil
	h.modules = make(map[string]*wasmModule)
	return err
}

// wasmResolver loads <name>.wasm from the search path and binds the export
// with the routine's lower-cased name.
type wasmResolver struct {
	interp *Interpreter
}

func (r wasmResolver) Resolve(a *Activation, name string) (ExternalRoutine, error) {
	path, bin, err := r.interp.readFromSearchPath(a, name, wasmExt)
	if err != nil || bin == nil {
		return nil, err
	}
	export := strings.ToLower(name)
	var module *wasmModule
	a.activity.Blocking(func() {
		module, err = r.interp.wasm.instantiate(export, bin)
	})
	if err != nil {
		return nil, newSyntax(ErrSystemService, fmt.Sprintf("%s: %v", path, err))
	}
	fn := module.mod.ExportedFunction(export)
	if fn == nil {
		return nil, nil
	}
	return &wasmFunction{name: name, module: module, fn: fn, ctx: r.interp.wasm.ctx}, nil
}

// wasmFunction calls a numeric WebAssembly export. Arguments are converted
// from their string values by the parameter types; the call itself runs
// with the execution lock released.
type wasmFunction struct {
	name   string
	module *wasmModule
	fn     api.Function
	ctx    context.Context
}

func (w *wasmFunction) Name() string { return w.name }

func (w *wasmFunction) Invoke(a *Activation, args []memory.Object) (memory.Object, error) {
	def := w.fn.Definition()
	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, newSyntax(ErrIncorrectCall, w.name)
	}
	encoded := make([]uint64, len(params))
	for idx, typ := range params {
		value, err := encodeWasmArg(typ, runtime.Text(args[idx]))
		if err != nil {
			return nil, newSyntax(ErrIncorrectCall, fmt.Sprintf("%s (argument %d: %v)", w.name, idx+1, err))
		}
		encoded[idx] = value
	}
	var (
		results []uint64
		err     error
	)
	a.activity.Blocking(func() {
		w.module.mu.Lock()
		defer w.module.mu.Unlock()
		results, err = w.fn.Call(w.ctx, encoded...)
	})
	if err != nil {
		return nil, newSyntax(ErrSystemService, fmt.Sprintf("%s: %v", w.name, err))
	}
	resultTypes := def.ResultTypes()
	if len(results) == 0 || len(resultTypes) == 0 {
		return nil, nil
	}
	return runtime.NewString(a.interp.heap, decodeWasmResult(resultTypes[0], results[0])), nil
}

func encodeWasmArg(typ api.ValueType, text string) (uint64, error) {
	text = strings.TrimSpace(text)
	switch typ {
	case api.ValueTypeI32:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return 0, err
		}
		return api.EncodeI32(int32(n)), nil
	case api.ValueTypeI64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(n), nil
	case api.ValueTypeF32:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(typ))
	}
}

func decodeWasmResult(typ api.ValueType, raw uint64) string {
	switch typ {
	case api.ValueTypeI32:
		return strconv.FormatInt(int64(api.DecodeI32(raw)), 10)
	case api.ValueTypeI64:
		return strconv.FormatInt(int64(raw), 10)
	case api.ValueTypeF32:
		return formatNumber(float64(api.DecodeF32(raw)))
	case api.ValueTypeF64:
		return formatNumber(api.DecodeF64(raw))
	default:
		return strconv.FormatUint(raw, 10)
	}
}
