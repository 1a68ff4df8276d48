package internal_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modulePrefix = "molt/internal"

// TestStateImportRestrictions keeps canonical state free of session wiring
func TestStateImportRestrictions(t *testing.T) {
	checkImports(t, "./api", nil, []string{modulePrefix})
	checkImports(t, "./game", []string{"molt/internal/api"}, nil)
	checkImports(t, "./protocol", []string{"molt/internal/api"}, nil)
}

// TestTransportImportRestrictions ensures the socket layer knows nothing of messages beyond the wire codec
func TestTransportImportRestrictions(t *testing.T) {
	allowedPrefixes := []string{
		"molt/internal/api",
		"molt/internal/log",
		"molt/internal/protocol",
	}
	checkImports(t, "./transport", allowedPrefixes, nil)
}

// TestDispatcherImportRestrictions ensures the dispatcher drives the queue and loop player through interfaces only
func TestDispatcherImportRestrictions(t *testing.T) {
	allowedPrefixes := []string{
		"molt/internal/api",
		"molt/internal/game",
		"molt/internal/log",
		"molt/internal/protocol",
	}
	checkImports(t, "./proxy/streaming", allowedPrefixes, nil)
}

// TestScriptingImportRestrictions ensures actions and loops never reach into the session or transport
func TestScriptingImportRestrictions(t *testing.T) {
	allowedPrefixes := []string{
		"molt/internal/api",
		"molt/internal/game",
		"molt/internal/log",
		"molt/internal/protocol",
		"molt/internal/proxy/database",
		"molt/internal/scripting",
	}
	forbiddenPrefixes := []string{
		"molt/internal/proxy/streaming",
		"molt/internal/transport",
		"molt/internal/userdata",
	}
	checkImports(t, "./scripting", allowedPrefixes, forbiddenPrefixes)
}

// TestUserDataImportRestrictions ensures sync only depends on persisted data
func TestUserDataImportRestrictions(t *testing.T) {
	allowedPrefixes := []string{
		"molt/internal/api",
		"molt/internal/log",
		"molt/internal/proxy/database",
	}
	checkImports(t, "./userdata", allowedPrefixes, nil)
}

func checkImports(t *testing.T, packageDir string, allowedPrefixes, forbiddenPrefixes []string) {
	err := filepath.Walk(packageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		fset := token.NewFileSet()
		node, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", path, err)
			return nil
		}

		for _, imp := range node.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)

			// Skip standard library and third-party imports
			if !strings.HasPrefix(importPath, modulePrefix) {
				continue
			}

			for _, forbidden := range forbiddenPrefixes {
				if strings.HasPrefix(importPath, forbidden) {
					t.Errorf("FORBIDDEN import in %s: %s", path, importPath)
				}
			}

			if len(allowedPrefixes) > 0 {
				allowed := false
				for _, prefix := range allowedPrefixes {
					if strings.HasPrefix(importPath, prefix) {
						allowed = true
						break
					}
				}
				if !allowed {
					t.Errorf("DISALLOWED import in %s: %s (not in allowed list)", path, importPath)
				}
			}
		}

		return nil
	})

	if err != nil {
		t.Errorf("Failed to walk directory %s: %v", packageDir, err)
	}
}
