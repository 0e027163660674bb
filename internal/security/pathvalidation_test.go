package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "cache")
	outsideDir := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{safeDir, outsideDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("MkdirAll(%s): %v", d, err)
		}
	}
	link := filepath.Join(safeDir, "escape")
	if err := os.Symlink(outsideDir, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"file in directory", filepath.Join(safeDir, "day.gzip"), false},
		{"nested file", filepath.Join(safeDir, "2021", "day.gzip"), false},
		{"dot dot escape", filepath.Join(safeDir, "..", "day.gzip"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"symlinked directory", filepath.Join(link, "day.gzip"), true},
		{"sibling directory", filepath.Join(outsideDir, "day.gzip"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "raw.gzip"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/raw.gzip", []string{a, b}); err == nil {
		t.Error("path outside every dir accepted")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "raw.gzip"), nil); err == nil {
		t.Error("empty dir list accepted")
	}
}

func TestValidateCachePath(t *testing.T) {
	cacheDir := t.TempDir()

	if err := ValidateCachePath(filepath.Join(os.TempDir(), "raw.gzip"), ""); err != nil {
		t.Errorf("temp dir path rejected: %v", err)
	}
	if err := ValidateCachePath(filepath.Join(cacheDir, "raw.gzip"), cacheDir); err != nil {
		t.Errorf("cache dir path rejected: %v", err)
	}
	if err := ValidateCachePath("/etc/cqrtraffic/raw.gzip", cacheDir); err == nil {
		t.Error("path outside allowed dirs accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"lamraw_101_21_1.gzip", "lamraw_101_21_1.gzip"},
		{"station 101/day 1", "station_101_day_1"},
		{"../../etc", "etc"},
		{"", "unknown"},
		{"???", "unknown"},
		{"a  b__c", "a_b__c"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
