package session

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	sess, err := newSession("u1@s.whatsapp.net", t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	t.Cleanup(sess.destroy)
	return sess
}

func TestWorkingPathIsolatesActors(t *testing.T) {
	dir := t.TempDir()
	a, err := newSession("alice", dir, slog.Default())
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	defer a.destroy()
	b, err := newSession("bob", dir, slog.Default())
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	defer b.destroy()

	pa := a.WorkingPath("out.mp4")
	pb := b.WorkingPath("out.mp4")
	if pa == pb {
		t.Fatalf("identical relative names collided: %s", pa)
	}
	if filepath.Dir(pa) == filepath.Dir(pb) {
		t.Fatalf("scratch directories shared: %s", filepath.Dir(pa))
	}
}

func TestWorkingPathStripsTraversal(t *testing.T) {
	sess := testSession(t)
	p := sess.WorkingPath("../../etc/passwd")
	if filepath.Dir(p) != sess.dir {
		t.Fatalf("WorkingPath escaped scratch dir: %s", p)
	}
}

func TestDestroyRunsCleanupsAndRemovesScratchDir(t *testing.T) {
	sess, err := newSession("u1", t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	if err := os.WriteFile(sess.WorkingPath("tmp.bin"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	var order []int
	sess.AddCleanup(func() error {
		order = append(order, 1)
		return nil
	})
	sess.AddCleanup(func() error {
		order = append(order, 2)
		return errors.New("cleanup boom")
	})
	sess.AddCleanup(func() error {
		order = append(order, 3)
		return nil
	})

	sess.destroy()

	// Reverse registration order, failures do not stop the rest.
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("cleanup order = %v", order)
	}
	if _, err := os.Stat(sess.dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after destroy: %v", err)
	}
	select {
	case <-sess.Context().Done():
	default:
		t.Fatalf("cancellation signal not fired on destroy")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	sess := testSession(t)
	calls := 0
	sess.AddCleanup(func() error {
		calls++
		return nil
	})
	sess.destroy()
	sess.destroy()
	if calls != 1 {
		t.Fatalf("cleanup calls = %d, want 1", calls)
	}
}

func TestAddCleanupAfterDestroyIsDropped(t *testing.T) {
	sess := testSession(t)
	sess.destroy()
	called := false
	sess.AddCleanup(func() error {
		called = true
		return nil
	})
	sess.destroy()
	if called {
		t.Fatalf("cleanup registered after destroy was run")
	}
}
