package ssh

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempKey(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("fake key material"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return keyPath
}

func validConfig(t *testing.T) *Config {
	cfg := DefaultConfig("10.0.0.5", "root")
	cfg.PrivateKeyPath = writeTempKey(t)
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfigValidateRejectsMissingHost(t *testing.T) {
	cfg := validConfig(t)
	cfg.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing host should be rejected")
	}
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validConfig(t)
		cfg.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should be rejected", port)
		}
	}
}

func TestConfigValidateRejectsMissingUser(t *testing.T) {
	cfg := validConfig(t)
	cfg.User = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing user should be rejected")
	}
}

func TestConfigValidatePasswordAuth(t *testing.T) {
	cfg := DefaultConfig("10.0.0.5", "root")
	cfg.AuthMethod = AuthMethodPassword
	if err := cfg.Validate(); err == nil {
		t.Error("password auth without password should be rejected")
	}
	cfg.Password = "hunter2"
	if err := cfg.Validate(); err != nil {
		t.Errorf("password auth rejected: %v", err)
	}
}

func TestConfigValidateRejectsMissingKeyFile(t *testing.T) {
	cfg := DefaultConfig("10.0.0.5", "root")
	cfg.PrivateKeyPath = "/nonexistent/id_rsa"
	if err := cfg.Validate(); err == nil {
		t.Error("missing key file should be rejected")
	}
}

func TestConfigValidateRejectsUnknownAuthMethod(t *testing.T) {
	cfg := validConfig(t)
	cfg.AuthMethod = "kerberos"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown auth method should be rejected")
	}
}

func TestConfigValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := validConfig(t)
	cfg.ConnectTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero connect timeout should be rejected")
	}
	cfg = validConfig(t)
	cfg.CommandTimeout = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative command timeout should be rejected")
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("node-1.internal", "root")
	if got := cfg.Address(); got != "node-1.internal:22" {
		t.Errorf("Address = %q", got)
	}
	cfg.Port = 2222
	if got := cfg.Address(); got != "node-1.internal:2222" {
		t.Errorf("Address = %q", got)
	}
}

func TestSudoCommand(t *testing.T) {
	if got := sudoCommand("systemctl restart kubelet", ""); got != "sudo systemctl restart kubelet" {
		t.Errorf("nopasswd sudo = %q", got)
	}
	got := sudoCommand("apt-get update", "secret")
	want := "echo 'secret' | sudo -S apt-get update"
	if got != want {
		t.Errorf("sudo with password = %q, want %q", got, want)
	}
}

type fakeExitError struct{ code int }

func (e *fakeExitError) Error() string   { return "exit" }
func (e *fakeExitError) ExitStatus() int { return e.code }

func TestExitStatus(t *testing.T) {
	if code, ok := exitStatus(&fakeExitError{code: 3}); !ok || code != 3 {
		t.Errorf("exitStatus = %d, %t", code, ok)
	}
	if _, ok := exitStatus(errors.New("connection reset")); ok {
		t.Error("plain error should not carry an exit status")
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if terr.Op != "config" {
		t.Errorf("Op = %q", terr.Op)
	}
}
