// Command archcheck fails when a package in this module imports across a
// layer boundary. It shells out to `go list` so test imports are covered.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "ex-snipe/"

// layerRule forbids packages under from importing packages under any of
// to, except those under allow.
type layerRule struct {
	from   string
	to     []string
	allow  []string
	reason string
}

var layerRules = []layerRule{
	{
		from:   "pkg/otogi",
		to:     []string{""},
		allow:  []string{"pkg/otogi"},
		reason: "pkg/otogi is the public contract and depends on nothing else in the module",
	},
	{
		from:   "internal/kernel",
		to:     []string{"internal/driver", "modules/"},
		reason: "the kernel knows drivers and modules only through otogi interfaces",
	},
	{
		from:   "modules/",
		to:     []string{"internal/", "cmd/"},
		reason: "modules are built against pkg/otogi alone",
	},
	{
		from:   "modules/memory",
		to:     []string{"modules/"},
		allow:  []string{"modules/memory"},
		reason: "the memory cache sits below every other module",
	},
	{
		from:   "internal/admin",
		to:     []string{"internal/driver", "internal/kernel"},
		reason: "the admin server reads runtime state through interfaces",
	},
	{
		from:   "internal/driver",
		to:     []string{"modules/"},
		reason: "drivers publish events and never call modules",
	},
}

// violated reports whether r forbids importer -> imported. Both paths are
// module-relative.
func (r layerRule) violated(importer string, imported string) bool {
	if !strings.HasPrefix(importer, r.from) {
		return false
	}
	for _, allowed := range r.allow {
		if strings.HasPrefix(imported, allowed) {
			return false
		}
	}

	return slices.ContainsFunc(r.to, func(prefix string) bool {
		return strings.HasPrefix(imported, prefix)
	})
}

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := checkPackages(packages, layerRules)
	if len(violations) == 0 {
		fmt.Println("arch-check: passed")
		return
	}

	fmt.Println("arch-check: layer violations:")
	for _, violation := range violations {
		fmt.Printf("  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	var stdout bytes.Buffer
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}

	return decodePackages(&stdout)
}

// decodePackages reads the concatenated JSON objects go list emits.
func decodePackages(r io.Reader) ([]listedPackage, error) {
	var packages []listedPackage
	decoder := json.NewDecoder(r)
	for {
		var pkg listedPackage
		err := decoder.Decode(&pkg)
		if errors.Is(err, io.EOF) {
			return packages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath != "" {
			packages = append(packages, pkg)
		}
	}
}

// checkPackages returns sorted, de-duplicated violation lines. Test variants
// of a package ("p [p.test]") report under the same edge as p.
func checkPackages(packages []listedPackage, rules []layerRule) []string {
	found := make(map[string]struct{})
	for _, pkg := range packages {
		importer, ok := moduleRelative(pkg.ImportPath)
		if !ok {
			continue
		}
		for _, imported := range slices.Concat(pkg.Imports, pkg.TestImports, pkg.XTestImports) {
			target, ok := moduleRelative(imported)
			if !ok {
				continue
			}
			for _, rule := range rules {
				if rule.violated(importer, target) {
					found[fmt.Sprintf("%s -> %s (%s)", importer, target, rule.reason)] = struct{}{}
					break
				}
			}
		}
	}

	return slices.Sorted(maps.Keys(found))
}

func moduleRelative(importPath string) (string, bool) {
	importPath, _, _ = strings.Cut(importPath, " ")
	importPath = strings.TrimSuffix(importPath, ".test")
	importPath = strings.TrimSuffix(importPath, "_test")

	return strings.CutPrefix(importPath, modulePrefix)
}
