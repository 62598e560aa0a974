//go:build testing

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestStore_ContainerIDUnknown(t *testing.T) {
	s := openTestStore(t)
	id, err := s.ContainerID(context.Background(), "alice", "https://example.com/x.git")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Errorf("got %q, want empty", id)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveContainerID(ctx, "alice", "https://example.com/x.git", "c1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveContainerID(ctx, "alice", "https://example.com/x.git", "c2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.SaveContainerID(ctx, "bob", "https://example.com/x.git", "c3"); err != nil {
		t.Fatalf("save other user: %v", err)
	}

	tests := []struct {
		user string
		want string
	}{
		{"alice", "c2"},
		{"bob", "c3"},
		{"carol", ""},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := s.ContainerID(ctx, tt.user, "https://example.com/x.git")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStore_SaveEmptyForgets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveContainerID(ctx, "alice", "r", "c1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveContainerID(ctx, "alice", "r", ""); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if id, _ := s.ContainerID(ctx, "alice", "r"); id != "" {
		t.Errorf("got %q, want empty", id)
	}
}

func TestStore_Forget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Forget(ctx, "alice", "r"); err != nil {
		t.Errorf("forget unknown pair: %v", err)
	}
	if err := s.SaveContainerID(ctx, "alice", "r", "c1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Forget(ctx, "alice", "r"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if id, _ := s.ContainerID(ctx, "alice", "r"); id != "" {
		t.Errorf("got %q after forget", id)
	}
}

func TestStore_List(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	for _, r := range []Record{
		{User: "bob", RepoURL: "r1", ContainerID: "c2"},
		{User: "alice", RepoURL: "r2", ContainerID: "c1"},
	} {
		if err := s.SaveContainerID(ctx, r.User, r.RepoURL, r.ContainerID); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].User != "alice" || got[1].User != "bob" {
		t.Errorf("order: got %s, %s", got[0].User, got[1].User)
	}
	if !got[0].UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt: got %v, want %v", got[0].UpdatedAt, fixed)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := s.SaveContainerID(ctx, "alice", "r", "c1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init again: %v", err)
	}
	if id, err := s.ContainerID(ctx, "alice", "r"); err != nil || id != "c1" {
		t.Errorf("got (%q, %v), want c1", id, err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("got %v, want ErrUnknownDriver", err)
	}
}

func TestOpenPostgres_EmptyDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), ""); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ?`
	pg := &Store{postgres: true}
	if got, want := pg.rebind(q), `SELECT a FROM t WHERE b = $1 AND c = $2`; got != want {
		t.Errorf("postgres: got %q, want %q", got, want)
	}
	lite := &Store{}
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite: got %q", got)
	}
}
