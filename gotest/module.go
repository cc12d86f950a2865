package gotest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ModulePath reads the module path from the go.mod file in dir.
func ModulePath(dir string) (string, error) {
	goModPath := filepath.Join(dir, "go.mod")
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.Parse(goModPath, content, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in %s", goModPath)
	}
	return modFile.Module.Mod.Path, nil
}

// ShortPackageName returns pkg relative to modulePath. Packages outside the
// module keep their full import path.
func ShortPackageName(pkg, modulePath string) string {
	if modulePath == "" {
		return pkg
	}
	if pkg == modulePath {
		return path.Base(modulePath)
	}
	if rel, ok := strings.CutPrefix(pkg, modulePath+"/"); ok {
		return rel
	}
	return pkg
}
