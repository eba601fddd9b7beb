package interpreter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"rexx/interpreter-go/pkg/envelope"
	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// ExternalRoutine is a call target found outside the calling code: a
// registered routine, a native function, a routine restored from an image,
// or a WebAssembly export. A nil result means the routine returned nothing.
type ExternalRoutine interface {
	Name() string
	Invoke(a *Activation, args []memory.Object) (memory.Object, error)
}

// Resolver finds external routines by name. Resolve returns nil, nil when it
// has nothing under name.
type Resolver interface {
	Resolve(a *Activation, name string) (ExternalRoutine, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(a *Activation, name string) (ExternalRoutine, error)

func (f ResolverFunc) Resolve(a *Activation, name string) (ExternalRoutine, error) {
	return f(a, name)
}

// NativeFunc implements a routine in Go. It runs with the execution lock
// held; long waits belong inside Activity().Blocking.
type NativeFunc func(a *Activation, args []memory.Object) (memory.Object, error)

type nativeRoutine struct {
	name string
	fn   NativeFunc
}

func (n *nativeRoutine) Name() string { return n.name }

func (n *nativeRoutine) Invoke(a *Activation, args []memory.Object) (memory.Object, error) {
	return n.fn(a, args)
}

// resolveExternal asks each resolver in turn.
func (i *Interpreter) resolveExternal(a *Activation, name string) (ExternalRoutine, error) {
	name = strings.ToUpper(name)
	i.resolverMu.RLock()
	resolvers := append([]Resolver(nil), i.resolvers...)
	i.resolverMu.RUnlock()
	for _, resolver := range resolvers {
		target, err := resolver.Resolve(a, name)
		if err != nil {
			return nil, err
		}
		if target != nil {
			return target, nil
		}
	}
	return nil, nil
}

// registryResolver serves routines and native functions registered with the
// interpreter, including routines loaded by the other resolvers.
type registryResolver struct {
	interp *Interpreter
}

func (r registryResolver) Resolve(_ *Activation, name string) (ExternalRoutine, error) {
	i := r.interp
	if obj, ok := i.routines.Get(name); ok {
		if routine, ok := obj.(*Routine); ok {
			return routine, nil
		}
	}
	i.nativeMu.RLock()
	defer i.nativeMu.RUnlock()
	if native, ok := i.natives[name]; ok {
		return native, nil
	}
	return nil, nil
}

func candidateNames(name, ext string) []string {
	lower := strings.ToLower(name) + ext
	if name+ext == lower {
		return []string{lower}
	}
	return []string{lower, name + ext}
}

// readFromSearchPath reads the first file named name+ext in the search path.
// The read happens with the execution lock released.
func (i *Interpreter) readFromSearchPath(a *Activation, name, ext string) (string, []byte, error) {
	var (
		path string
		data []byte
		err  error
	)
	a.activity.Blocking(func() {
		for _, dir := range i.opts.SearchPath {
			for _, candidate := range candidateNames(name, ext) {
				full := filepath.Join(dir, candidate)
				data, err = os.ReadFile(full)
				if err == nil {
					path = full
					return
				}
				if !errors.Is(err, fs.ErrNotExist) {
					return
				}
			}
		}
		err = nil
	})
	if err != nil {
		return "", nil, newSyntax(ErrSystemService, err.Error())
	}
	return path, data, nil
}

// imageResolver restores routines from compiled images named <name>.rxc in
// the search path.
type imageResolver struct {
	interp *Interpreter
}

func (r imageResolver) Resolve(a *Activation, name string) (ExternalRoutine, error) {
	path, data, err := r.interp.readFromSearchPath(a, name, envelope.ImageExt)
	if err != nil || data == nil {
		return nil, err
	}
	routine, err := r.interp.restoreRoutine(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.interp.routines.Put(name, routine)
	return routine, nil
}

// macrospaceResolver indexes the *.rxlib libraries in the search path the
// first time it is consulted. Resolve runs under the execution lock, which
// also guards the index.
type macrospaceResolver struct {
	interp *Interpreter

	loaded bool
	err    error
	images map[string][]byte
}

func (r *macrospaceResolver) scan() (map[string][]byte, error) {
	images := make(map[string][]byte)
	for _, dir := range r.interp.opts.SearchPath {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+envelope.MacrospaceExt))
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			macros, err := envelope.LoadMacrospace(path)
			if err != nil {
				return nil, err
			}
			for _, macro := range macros {
				if _, seen := images[macro.Name]; !seen {
					images[macro.Name] = macro.Image
				}
			}
		}
	}
	return images, nil
}

func (r *macrospaceResolver) Resolve(a *Activation, name string) (ExternalRoutine, error) {
	if !r.loaded {
		var (
			images map[string][]byte
			err    error
		)
		a.activity.Blocking(func() { images, err = r.scan() })
		if !r.loaded {
			r.images, r.err, r.loaded = images, err, true
		}
	}
	if r.err != nil {
		return nil, newSyntax(ErrSystemService, r.err.Error())
	}
	image, ok := r.images[name]
	if !ok {
		return nil, nil
	}
	routine, err := r.interp.restoreRoutine(image)
	if err != nil {
		return nil, fmt.Errorf("macrospace member %s: %w", name, err)
	}
	r.interp.routines.Put(name, routine)
	return routine, nil
}

// restoreRoutine unflattens and finalizes a routine image. A corrupt image
// is fatal.
func (i *Interpreter) restoreRoutine(data []byte) (*Routine, error) {
	release := i.heap.Hold()
	defer release()
	obj, err := envelope.Unflatten(i.heap, data)
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	routine, ok := obj.(*Routine)
	if !ok {
		return nil, &FatalError{Err: fmt.Errorf("%w: image root is %s, not a Routine", envelope.ErrBadImage, runtime.Text(obj))}
	}
	if err := routine.validate(); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("%w: %v", envelope.ErrBadImage, err)}
	}
	if err := routine.code.Finalize(); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("%w: %v", envelope.ErrBadImage, err)}
	}
	return routine, nil
}
