package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("dateOp;label;amount\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "export-2025-03.csv"))
	touch(t, filepath.Join(dir, "nested", "export-2025-02.CSV"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "archive.json"))

	files, err := New(dir).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("Scan() = %v, want 2 CSV files", files)
	}
	// Sorted by full path: the root-level file before the nested directory.
	if filepath.Base(files[0]) != "export-2025-03.csv" {
		t.Errorf("files[0] = %s, want export-2025-03.csv first (sorted order)", files[0])
	}
	if filepath.Base(files[1]) != "export-2025-02.CSV" {
		t.Errorf("files[1] = %s, want nested export second", files[1])
	}
}

func TestScan_EmptyDir(t *testing.T) {
	files, err := New(t.TempDir()).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Scan() = %v, want none", files)
	}
}

func TestScan_MissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope")).Scan(); err == nil {
		t.Error("Scan() = nil error for missing directory, want error")
	}
}

func TestIsExportFile(t *testing.T) {
	s := New(".")
	tests := []struct {
		path string
		want bool
	}{
		{"export.csv", true},
		{"EXPORT.CSV", true},
		{"export.txt", false},
		{"export.ofx", false},
		{"csv", false},
	}
	for _, tt := range tests {
		if got := s.isExportFile(tt.path); got != tt.want {
			t.Errorf("isExportFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
