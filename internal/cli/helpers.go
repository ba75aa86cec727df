package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/classdef"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/larder"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// openCatalog loads the class definitions the settings point at.
func openCatalog(s *settings) (*types.Catalog, error) {
	path := s.classesPath()
	cat, err := classdef.LoadPath(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, usageErrorf("no class definitions at %s (run larder init or pass --classes)", path)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("load classes: %w", err))
	}
	return cat, nil
}

// openRuntime loads settings and class definitions and opens the configured
// store. The caller must Close the runtime.
func openRuntime(cmd *cobra.Command, flags *rootFlags) (*larder.Runtime, *settings, error) {
	s, err := loadSettings(cmd, flags)
	if err != nil {
		return nil, nil, classify(err)
	}
	logger, err := s.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	cat, err := openCatalog(s)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := s.storeConfig()
	if err != nil {
		return nil, nil, classify(err)
	}
	rt, err := larder.Open(cfg, cat, larder.WithLogger(logger))
	if err != nil {
		return nil, nil, classify(fmt.Errorf("open %s store: %w", cfg.Backend, err))
	}
	logger.Debug("runtime opened", "backend", cfg.Backend, "data_dir", cfg.DataDir, "classes", s.classesPath())
	return rt, s, nil
}

// withRuntime runs fn against an open runtime and closes it afterwards.
func withRuntime(cmd *cobra.Command, flags *rootFlags, fn func(rt *larder.Runtime, s *settings) error) error {
	rt, s, err := openRuntime(cmd, flags)
	if err != nil {
		return err
	}
	err = fn(rt, s)
	if cerr := rt.Close(); cerr != nil && err == nil {
		err = classify(fmt.Errorf("close store: %w", cerr))
	}
	return classify(err)
}

// findByKey returns the object of class with the key values in args.
func findByKey(rt *larder.Runtime, class string, args []string) (*bo.Object, error) {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	o, err := rt.FindByKey(class, vals...)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%s %s: %w", class, strings.Join(args, " "), types.ErrRecordNotFound)
	}
	return o, nil
}

// objectView is the JSON form of an object.
type objectView struct {
	Class  string         `json:"class"`
	Key    string         `json:"key"`
	Values map[string]any `json:"values"`
}

func viewOf(o *bo.Object) objectView {
	return objectView{Class: o.Class(), Key: o.Key(), Values: o.Props().Values()}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printObject writes the key of o followed by one "name: value" line per
// property, using display values.
func printObject(w io.Writer, o *bo.Object) error {
	fmt.Fprintln(w, o.Key())
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	for _, name := range o.Props().Names() {
		d, err := o.DisplayValue(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "  %s:\t%s\n", name, d)
	}
	return tw.Flush()
}

// printTable writes objs of one class as aligned columns, one row each.
func printTable(w io.Writer, def *types.ClassDef, objs []*bo.Object) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	names := make([]string, len(def.Properties))
	for i, p := range def.Properties {
		names[i] = p.Name
	}
	fmt.Fprintln(tw, strings.Join(names, "\t"))
	for _, o := range objs {
		row := make([]string, len(names))
		for i, name := range names {
			d, err := o.DisplayValue(name)
			if err != nil {
				return err
			}
			row[i] = d
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// parseAssignment splits a name=value argument.
func parseAssignment(arg string) (string, string, error) {
	name, value, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", usageErrorf("invalid assignment %q (expected name=value)", arg)
	}
	return strings.TrimSpace(name), value, nil
}
