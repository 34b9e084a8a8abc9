package customsensor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileSensorAcceptsValidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(path, []byte("45000"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFileSensor(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 45.0 {
		t.Fatalf("expected 45.0, got %v", got)
	}
}

func TestReadFileSensorBoundarySizes(t *testing.T) {
	dir := t.TempDir()

	exact15 := filepath.Join(dir, "exact15")
	// 15 leading-zero-padded digits, still parsing to the in-range value
	// 120000.
	content := "000000000120000" // exactly 15 bytes
	if len(content) != 15 {
		t.Fatalf("test fixture bug: content is %d bytes", len(content))
	}
	if err := os.WriteFile(exact15, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFileSensor(exact15); err != nil {
		t.Fatalf("expected exactly-15-byte file to be accepted, got %v", err)
	}

	over16 := filepath.Join(dir, "over16")
	if err := os.WriteFile(over16, []byte("0000000000120000"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFileSensor(over16); err == nil {
		t.Fatal("expected 16-byte file to be rejected")
	}
}

func TestReadFileSensorRangeBoundary(t *testing.T) {
	dir := t.TempDir()

	ok := filepath.Join(dir, "ok")
	os.WriteFile(ok, []byte("120000"), 0o644)
	if v, err := ReadFileSensor(ok); err != nil || v != 120.0 {
		t.Fatalf("expected 120.0, got %v (err=%v)", v, err)
	}

	over := filepath.Join(dir, "over")
	os.WriteFile(over, []byte("120001"), 0o644)
	if _, err := ReadFileSensor(over); err == nil {
		t.Fatal("expected 120001 to be rejected")
	}
}

func TestReadFileSensorRejectsNonInteger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asdf")
	os.WriteFile(path, []byte("asdf"), 0o644)
	if _, err := ReadFileSensor(path); err == nil {
		t.Fatal("expected non-integer content to fail with UserError")
	}
}

func TestReadFileSensorMissingFile(t *testing.T) {
	if _, err := ReadFileSensor(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected missing file to error")
	}
}
