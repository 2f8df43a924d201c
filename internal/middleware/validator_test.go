package middleware

import "testing"

func TestValidateMimeType(t *testing.T) {
	allowed := []string{"application/pdf", "image/png"}

	if err := ValidateMimeType("application/pdf", allowed); err != nil {
		t.Errorf("pdf rejected: %v", err)
	}
	if err := ValidateMimeType("Application/PDF", allowed); err != nil {
		t.Errorf("case-insensitive match failed: %v", err)
	}
	if err := ValidateMimeType("application/x-msdownload", allowed); err == nil {
		t.Error("executable mime accepted")
	}
	if err := ValidateMimeType("", allowed); err == nil {
		t.Error("empty mime accepted")
	}
}

func TestValidateFileSize(t *testing.T) {
	if err := ValidateFileSize(100, 1000); err != nil {
		t.Errorf("valid size rejected: %v", err)
	}
	if err := ValidateFileSize(0, 1000); err == nil {
		t.Error("empty file accepted")
	}
	if err := ValidateFileSize(1001, 1000); err == nil {
		t.Error("oversized file accepted")
	}
}

func TestValidateFilename(t *testing.T) {
	valid := []string{"report.pdf", "patient records 2025.docx", "scan_01.png"}
	for _, name := range valid {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("ValidateFilename(%q) = %v", name, err)
		}
	}
	invalid := []string{"", "  ", "../etc/passwd", "a/b.pdf", "bad\x00name.pdf"}
	for _, name := range invalid {
		if err := ValidateFilename(name); err == nil {
			t.Errorf("ValidateFilename(%q) accepted", name)
		}
	}
}

func TestValidateUUID(t *testing.T) {
	if err := ValidateUUID("6f1e9a9c-0b0e-4b43-9f3e-111111111111"); err != nil {
		t.Errorf("valid uuid rejected: %v", err)
	}
	for _, id := range []string{"", "not-a-uuid", "123"} {
		if err := ValidateUUID(id); err == nil {
			t.Errorf("ValidateUUID(%q) accepted", id)
		}
	}
}

func TestPaginationClamps(t *testing.T) {
	if got := ValidatePageSize(0); got != 20 {
		t.Errorf("ValidatePageSize(0) = %d, want 20", got)
	}
	if got := ValidatePageSize(500); got != 100 {
		t.Errorf("ValidatePageSize(500) = %d, want 100", got)
	}
	if got := ValidatePageSize(50); got != 50 {
		t.Errorf("ValidatePageSize(50) = %d, want 50", got)
	}
	if got := ValidatePage(-3); got != 1 {
		t.Errorf("ValidatePage(-3) = %d, want 1", got)
	}
	if got := ValidatePage(7); got != 7 {
		t.Errorf("ValidatePage(7) = %d, want 7", got)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00 world\x07 "); got != "hello world" {
		t.Errorf("SanitizeString = %q", got)
	}
}
