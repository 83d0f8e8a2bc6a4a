package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	lerrors "lifod/internal/errors"
)

// TestBuildAuthMethods_ExplicitKey verifies that a key file is loaded.
func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_test")
	writeTestKey(t, keyPath)

	cfg := &SSHConfig{KeyPath: keyPath}
	methods, err := BuildAuthMethods(cfg)
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected exactly one auth method, got %d", len(methods))
	}
}

// TestBuildAuthMethods_MissingKey verifies a clear error message.
func TestBuildAuthMethods_MissingKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	cfg := &SSHConfig{KeyPath: "/nonexistent/key"}
	_, err := BuildAuthMethods(cfg)
	if err == nil {
		t.Fatal("expected error for missing key")
	}
}

// TestBuildAuthMethods_AgentUnset verifies --ssh-agent without an agent.
func TestBuildAuthMethods_AgentUnset(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := BuildAuthMethods(&SSHConfig{UseAgent: true})
	if err == nil {
		t.Fatal("expected error without SSH_AUTH_SOCK")
	}
}

// TestBuildAuthMethods_PasswordNeedsTerminal verifies the prompt refuses
// to read a secret from a pipe.
func TestBuildAuthMethods_PasswordNeedsTerminal(t *testing.T) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		t.Skip("stdin is a terminal")
	}
	_, err := BuildAuthMethods(&SSHConfig{PromptPass: true})
	if !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("expected ErrNoTerminal, got %v", err)
	}
}

// TestHostKeyCallback_Insecure verifies that InsecureIgnoreHostKey is used
// when StrictHostKey is false.
func TestHostKeyCallback_Insecure(t *testing.T) {
	cfg := &SSHConfig{StrictHostKey: false}
	cb, err := hostKeyCallback(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cb == nil {
		t.Fatal("callback should not be nil")
	}
}

// TestHostKeyCallback_StrictMissingFile verifies strict checking needs a
// readable known_hosts.
func TestHostKeyCallback_StrictMissingFile(t *testing.T) {
	cfg := &SSHConfig{StrictHostKey: true, KnownHosts: filepath.Join(t.TempDir(), "none")}
	if _, err := hostKeyCallback(cfg); err == nil {
		t.Fatal("expected error for missing known_hosts")
	}
}

// TestHostKeyCallback_StrictKnownHost checks a recorded key is accepted
// and a different one rejected.
func TestHostKeyCallback_StrictKnownHost(t *testing.T) {
	known := newSigner(t).PublicKey()
	other := newSigner(t).PublicKey()

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := "bastion " + string(ssh.MarshalAuthorizedKey(known))
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}

	cb, err := hostKeyCallback(&SSHConfig{StrictHostKey: true, KnownHosts: path})
	if err != nil {
		t.Fatal(err)
	}
	addr := &fakeAddr{"10.0.0.1:22"}
	if err := cb("bastion:22", addr, known); err != nil {
		t.Errorf("known key rejected: %v", err)
	}
	if err := cb("bastion:22", addr, other); !errors.Is(err, lerrors.ErrHostKeyMismatch) {
		t.Errorf("mismatched key: got %v, want ErrHostKeyMismatch", err)
	}
	err = cb("elsewhere:22", addr, known)
	if err == nil || errors.Is(err, lerrors.ErrHostKeyMismatch) {
		t.Errorf("unknown host: got %v, want a plain knownhosts error", err)
	}
}

func TestSSHConfig_Addr(t *testing.T) {
	cfg := &SSHConfig{Host: "bastion", Port: 2222}
	if got := cfg.Addr(); got != "bastion:2222" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestSSHTunnel_NotConnected(t *testing.T) {
	tun := NewSSHTunnel(&SSHConfig{Host: "bastion"}, nil)
	if tun.IsAlive() {
		t.Fatal("new tunnel should not be alive")
	}
	if _, err := tun.Listen("tcp", "127.0.0.1:7301"); err == nil {
		t.Fatal("expected error listening on an unconnected tunnel")
	}
	if err := tun.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

type fakeAddr struct{ s string }

func (a *fakeAddr) Network() string { return "tcp" }
func (a *fakeAddr) String() string  { return a.s }

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// writeTestKey writes a fresh, unencrypted ed25519 key in OpenSSH format.
func writeTestKey(t *testing.T, path string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test@lifod")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
}
