package testutil

import (
	"embed"
	"os"
	"path/filepath"
	"testing"
)

//go:embed testdata/*.ndjson
var fixtures embed.FS

// Fixture returns the content of an embedded NDJSON fixture, e.g.
// "patients.ndjson" or "observations.ndjson".
func Fixture(t testing.TB, name string) []byte {
	t.Helper()
	data, err := fixtures.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("fixture %s: %v", name, err)
	}
	return data
}

// WriteFixture copies an embedded fixture into a temporary directory and
// returns its path.
func WriteFixture(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, Fixture(t, name), 0o600); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return path
}
