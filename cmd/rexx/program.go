package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rexx/interpreter-go/pkg/envelope"
	"rexx/interpreter-go/pkg/interpreter"
)

// loadProgram loads a compiled image or an assembly file and returns its
// entry routine. Assembly routines are cached as images when cache is set.
func loadProgram(interp *interpreter.Interpreter, cache *envelope.Cache, path string) (*interpreter.Routine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), envelope.ImageExt) {
		r, err := interp.LoadImage(data)
		if err != nil {
			return nil, err
		}
		interp.SetProgramOrigin(r.Name(), path)
		return r, nil
	}

	asm, err := interpreter.ParseAssembly(path, data)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		if entry, ok := loadCachedAssembly(interp, cache, asm, data); ok {
			return entry, nil
		}
	}
	routines, err := interp.LoadAssembly(path, data)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		storeCachedAssembly(interp, cache, routines, data)
	}
	return routines[0], nil
}

func routineCacheKey(cache *envelope.Cache, source []byte, routine string) string {
	keyed := make([]byte, 0, len(routine)+1+len(source))
	keyed = append(keyed, routine...)
	keyed = append(keyed, 0)
	keyed = append(keyed, source...)
	return cache.Key(keyed)
}

// loadCachedAssembly restores every routine of asm from the cache. Any miss
// sends the caller back to the assembly.
func loadCachedAssembly(interp *interpreter.Interpreter, cache *envelope.Cache, asm *interpreter.Assembly, source []byte) (*interpreter.Routine, bool) {
	images := make([][]byte, 0, len(asm.Routines))
	for _, r := range asm.Routines {
		image, ok, err := cache.Load(routineCacheKey(cache, source, r.Name))
		if err != nil || !ok {
			return nil, false
		}
		images = append(images, image)
	}
	var entry *interpreter.Routine
	for idx, image := range images {
		r, err := interp.LoadImage(image)
		if err != nil || r.Name() != asm.Routines[idx].Name {
			return nil, false
		}
		interp.SetProgramOrigin(r.Name(), asm.Source)
		if idx == 0 {
			entry = r
		}
	}
	return entry, true
}

func storeCachedAssembly(interp *interpreter.Interpreter, cache *envelope.Cache, routines []*interpreter.Routine, source []byte) {
	for _, r := range routines {
		image, err := interp.SaveImage(r)
		if err == nil {
			err = cache.Store(routineCacheKey(cache, source, r.Name()), image)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: cache %s: %v\n", r.Name(), err)
			return
		}
	}
}

// compileAssembly builds the routines of an assembly file and flattens each
// into an image.
func compileAssembly(interp *interpreter.Interpreter, path string) ([]string, [][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	routines, err := interp.LoadAssembly(path, data)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(routines))
	images := make([][]byte, 0, len(routines))
	for _, r := range routines {
		image, err := interp.SaveImage(r)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, r.Name())
		images = append(images, image)
	}
	return names, images, nil
}
