package broker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveCredentialEnv(t *testing.T) {
	t.Setenv("DSDEPLOY_TEST_SECRET", "s3cret")

	got, err := ResolveCredential("env:DSDEPLOY_TEST_SECRET")
	if err != nil {
		t.Fatalf("ResolveCredential: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("got %q, want s3cret", got)
	}
}

func TestResolveCredentialEnvMissing(t *testing.T) {
	if _, err := ResolveCredential("env:DSDEPLOY_TEST_UNSET_VARIABLE"); err == nil {
		t.Error("expected error for unset environment variable")
	}
}

func TestResolveCredentialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveCredential("file:" + path)
	if err != nil {
		t.Fatalf("ResolveCredential: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("got %q, want hunter2 (trimmed)", got)
	}
}

func TestResolveCredentialFileWithKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	contents := "# warehouse credentials\nWAREHOUSE_PASSWORD=hunter2\nOTHER = ignored\n\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveCredential("file:" + path + "#WAREHOUSE_PASSWORD")
	if err != nil {
		t.Fatalf("ResolveCredential: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("got %q, want hunter2", got)
	}

	if _, err := ResolveCredential("file:" + path + "#MISSING"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestResolveCredentialRejectsPlaintext(t *testing.T) {
	for _, ref := range []string{"hunter2", "secret:hunter2", "plain text password"} {
		if _, err := ResolveCredential(ref); err == nil {
			t.Errorf("plaintext reference %q should be rejected", ref)
		}
	}
}

func TestResolveCredentialEmpty(t *testing.T) {
	got, err := ResolveCredential("")
	if err != nil {
		t.Fatalf("empty reference should be allowed: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
