package secret

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const testIterations = 1000

func TestEncryptDecrypt(t *testing.T) {
	data, err := encrypt("hunter2", "key-pass", testIterations)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := Decrypt(data, "key-pass")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("got %q", got)
	}

	var f passwordFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Iterations != testIterations || f.Version != fileVersion {
		t.Errorf("header = %+v", f)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	data, err := encrypt("hunter2", "right", testIterations)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decrypt(data, "wrong")
	if !errors.Is(err, domain.ErrDecryptFailure) {
		t.Fatalf("err = %v, want ErrDecryptFailure", err)
	}
}

func TestEncryptRejectsEmpty(t *testing.T) {
	if _, err := encrypt("", "k", testIterations); err == nil {
		t.Error("empty password accepted")
	}
	if _, err := encrypt("p", "", testIterations); err == nil {
		t.Error("empty key password accepted")
	}
}

func TestDecryptRejectsMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   "nope",
		"version":    `{"version":2,"iterations":1,"salt":"","nonce":"","ciphertext":""}`,
		"iterations": `{"version":1,"iterations":0,"salt":"","nonce":"","ciphertext":""}`,
		"salt":       `{"version":1,"iterations":1,"salt":"***","nonce":"","ciphertext":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Decrypt([]byte(body), "k"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve(Source{Password: "plain", EncryptedPath: "/does/not/matter"})
	if err != nil || got != "plain" {
		t.Fatalf("plain password: %q, %v", got, err)
	}

	data, err := encrypt("from-file", "kp", testIterations)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "pw.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = Resolve(Source{EncryptedPath: path, KeyPassword: "kp"})
	if err != nil || got != "from-file" {
		t.Fatalf("file password: %q, %v", got, err)
	}

	if _, err := Resolve(Source{}); err == nil {
		t.Error("expected error without a source")
	}
	if _, err := Resolve(Source{EncryptedPath: filepath.Join(t.TempDir(), "missing"), KeyPassword: "kp"}); err == nil {
		t.Error("expected error for missing file")
	}
}
