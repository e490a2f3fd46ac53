package migrations

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreGooseFiles(t *testing.T) {
	names, err := fs.Glob(FS(), "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	versioned := regexp.MustCompile(`^\d{5}_[a-z0-9_]+\.sql$`)
	for _, name := range names {
		if !versioned.MatchString(name) {
			t.Fatalf("%s: not a versioned goose file name", name)
		}
		b, err := fs.ReadFile(FS(), name)
		if err != nil {
			t.Fatal(err)
		}
		body := string(b)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", name)
		}
		if strings.Count(body, "-- +goose StatementBegin") != strings.Count(body, "-- +goose StatementEnd") {
			t.Fatalf("%s: unbalanced statement blocks", name)
		}
	}
}

// Every metadata table a PG store touches must be created by some migration.
func TestStoresOnlyReferenceMigratedTables(t *testing.T) {
	var schema strings.Builder
	names, _ := fs.Glob(FS(), "*.sql")
	for _, name := range names {
		b, _ := fs.ReadFile(FS(), name)
		schema.Write(b)
	}
	created := map[string]bool{}
	for _, m := range regexp.MustCompile(`CREATE TABLE (metadata\.[a-z_]+)`).FindAllStringSubmatch(schema.String(), -1) {
		created[m[1]] = true
	}

	stores, err := filepath.Glob(filepath.Join("..", "modules", "*", "infrastructure", "persistence", "*_pg_store.go"))
	if err != nil {
		t.Fatal(err)
	}
	ref := regexp.MustCompile(`(?:FROM|INTO|UPDATE) (metadata\.[a-z_]+)`)
	seen := 0
	for _, path := range stores {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range ref.FindAllStringSubmatch(string(b), -1) {
			seen++
			if !created[m[1]] {
				t.Fatalf("%s references %s which no migration creates", path, m[1])
			}
		}
	}
	if seen == 0 {
		t.Fatal("no store queries found")
	}
}
