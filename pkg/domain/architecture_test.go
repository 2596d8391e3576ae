package domain

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDomainDoesNotImportInternal keeps the membership model free of any
// implementation package so every layer can depend on it.
func TestDomainDoesNotImportInternal(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "conservatory/pkg/domain")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatalf("expected domain package to load")
	}

	var violations []string
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			if strings.HasPrefix(importPath, "conservatory/internal/") || strings.HasPrefix(importPath, "conservatory/testutil") {
				violations = append(violations, pkg.PkgPath+": "+importPath)
			}
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("domain package must not import implementation packages: %s", v)
	}
}
