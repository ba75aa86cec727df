// Package classdef loads class definitions from YAML or CUE files into a
// types.Catalog.
//
// Both formats hold a top-level "classes" list whose entries follow the
// field names of types.ClassDef:
//
//	classes:
//	  - class: Parent
//	    primary_key: [id]
//	    properties:
//	      - {name: id, type: int, auto_increment: true}
//	      - {name: name, compulsory: true}
package classdef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Format names a definition file format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// ErrUnknownFormat is returned for a file extension or Format that is not
// supported.
var ErrUnknownFormat = errors.New("unknown class definition format")

type document struct {
	Classes []types.ClassDef `yaml:"classes" json:"classes"`
}

// FormatOf returns the format implied by a file name's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Load reads one document and returns a validated catalog.
func Load(r io.Reader, format Format) (*types.Catalog, error) {
	defs, err := decode(r, format, "input")
	if err != nil {
		return nil, err
	}
	return build(defs)
}

// LoadFile reads one definition file, choosing the format by extension.
func LoadFile(path string) (*types.Catalog, error) {
	defs, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return build(defs)
}

// LoadDir reads every .yaml, .yml, and .cue file directly inside dir, in
// name order, into one catalog. Relationships may refer to classes defined
// in other files.
func LoadDir(dir string) (*types.Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := FormatOf(e.Name()); err == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no class definition files in %s: %w", dir, types.ErrInvalidClassDef)
	}

	var defs []types.ClassDef
	for _, name := range names {
		d, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, d...)
	}
	return build(defs)
}

// LoadPath loads a file or a directory.
func LoadPath(path string) (*types.Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

func decodeFile(path string) ([]types.ClassDef, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f, format, path)
}

func decode(r io.Reader, format Format, name string) ([]types.ClassDef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	switch format {
	case FormatYAML:
		return decodeYAML(data, name)
	case FormatCUE:
		return decodeCUE(data, name)
	}
	return nil, fmt.Errorf("%s: %q: %w", name, format, ErrUnknownFormat)
}

func decodeYAML(data []byte, name string) ([]types.ClassDef, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing %s: %v: %w", name, err, types.ErrInvalidClassDef)
	}
	return doc.Classes, nil
}

func decodeCUE(data []byte, name string) ([]types.ClassDef, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %v: %w", name, err, types.ErrInvalidClassDef)
	}
	classes := v.LookupPath(cue.ParsePath("classes"))
	if !classes.Exists() {
		return nil, nil
	}
	if err := classes.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%s: classes must be concrete: %v: %w", name, err, types.ErrInvalidClassDef)
	}
	var defs []types.ClassDef
	if err := classes.Decode(&defs); err != nil {
		return nil, fmt.Errorf("decoding %s: %v: %w", name, err, types.ErrInvalidClassDef)
	}
	return defs, nil
}

func build(defs []types.ClassDef) (*types.Catalog, error) {
	cat := types.NewCatalog()
	for _, def := range defs {
		if err := cat.Register(def); err != nil {
			return nil, err
		}
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}
