package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"pgregory.net/rapid"
)

// Property: the registry holds exactly one record per unique valid name, taken from
// the last manifest in traversal order, and enable_startup defaults to false
func TestFindPlugins_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base, err := os.MkdirTemp("", "pluginhost-prop-")
		if err != nil {
			t.Fatalf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(base)

		roots := []string{filepath.Join(base, "builtin"), filepath.Join(base, "user")}
		for _, root := range roots {
			if err := os.MkdirAll(root, 0755); err != nil {
				t.Fatalf("failed to create root: %v", err)
			}
		}

		type want struct {
			description string
			startup     bool
			folder      string
		}
		expected := make(map[string]want)

		count := rapid.IntRange(0, 10).Draw(t, "count")
		perRoot := [2][]int{}
		for i := 0; i < count; i++ {
			root := rapid.IntRange(0, 1).Draw(t, "root")
			perRoot[root] = append(perRoot[root], i)
		}

		// directories are named so lexical order equals creation order
		for r, indexes := range perRoot {
			for _, i := range indexes {
				name := rapid.SampledFrom([]string{"A", "B", "C", "D"}).Draw(t, "name")
				valid := rapid.Bool().Draw(t, "valid")
				startup := rapid.Bool().Draw(t, "startup")
				withStartup := rapid.Bool().Draw(t, "withStartup")

				manifest := map[string]any{"name": name}
				description := fmt.Sprintf("plugin %d", i)
				if valid {
					manifest["description"] = description
				}
				if withStartup {
					manifest["enable-startup"] = startup
				}

				data, err := json.Marshal(manifest)
				if err != nil {
					t.Fatalf("failed to encode manifest: %v", err)
				}

				folder := filepath.Join(roots[r], fmt.Sprintf("p%02d", i))
				if err := os.MkdirAll(folder, 0755); err != nil {
					t.Fatalf("failed to create plugin dir: %v", err)
				}
				if err := os.WriteFile(filepath.Join(folder, ManifestFile), data, 0644); err != nil {
					t.Fatalf("failed to write manifest: %v", err)
				}

				if valid {
					expected[name] = want{
						description: description,
						startup:     withStartup && startup,
						folder:      folder,
					}
				}
			}
		}

		logger, _ := test.NewNullLogger()
		manager := NewManager(roots, logger, WithModuleRegistry(NewModuleRegistry()))
		registry := manager.FindPlugins(context.Background())

		if registry.Len() != len(expected) {
			t.Fatalf("expected %d records, got %d (%v)", len(expected), registry.Len(), registry.Names())
		}
		for name, w := range expected {
			rec, ok := registry.Get(name)
			if !ok {
				t.Fatalf("missing record %q", name)
			}
			if rec.Description != w.description {
				t.Fatalf("record %q: expected description %q, got %q", name, w.description, rec.Description)
			}
			if rec.EnableStartup != w.startup {
				t.Fatalf("record %q: expected enable_startup %v, got %v", name, w.startup, rec.EnableStartup)
			}
			if rec.Folder != w.folder {
				t.Fatalf("record %q: expected folder %q, got %q", name, w.folder, rec.Folder)
			}
		}
	})
}
