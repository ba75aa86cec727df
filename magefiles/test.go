//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	cliPkg    = modulePath + "/internal/cli"
	coverFile = "coverage.out"
)

// goldenPkgs hold golden-file tests regenerated by Test:Golden.
var goldenPkgs = []string{"./internal/xmlio/..."}

// Test groups test targets.
type Test mg.Namespace

// All runs every test.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Unit runs the package tests, excluding the command tests that drive the
// larder command against a real sqlite store.
func (Test) Unit() error {
	pkgs, err := sh.Output(binGo, "list", "./...")
	if err != nil {
		return err
	}
	var unitPkgs []string
	for pkg := range strings.SplitSeq(pkgs, "\n") {
		if pkg != "" && pkg != cliPkg {
			unitPkgs = append(unitPkgs, pkg)
		}
	}
	if len(unitPkgs) == 0 {
		fmt.Println("No unit test packages found.")
		return nil
	}
	args := append([]string{"test", "-v"}, unitPkgs...)
	return sh.RunV(binGo, args...)
}

// CLI runs the command tests.
func (Test) CLI() error {
	return sh.RunV(binGo, "test", "-v", cliPkg)
}

// Golden regenerates golden files from current output.
func (Test) Golden() error {
	args := append([]string{"test"}, goldenPkgs...)
	return sh.RunV(binGo, append(args, "-update")...)
}

// Cover runs every test with coverage and prints the per-function summary.
func (Test) Cover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile="+coverFile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func="+coverFile)
}
