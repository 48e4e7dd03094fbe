package main

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/viper"

	"github.com/pavelanni/mea/internal/catalog"
	"github.com/pavelanni/mea/internal/store"
	"github.com/pavelanni/mea/internal/wizard"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := seedAdmin(ctx, s, ""); err == nil {
		t.Fatal("expected error without admin password")
	}
	if err := seedAdmin(ctx, s, "secret"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	// A second call is a no-op once users exist.
	if err := seedAdmin(ctx, s, ""); err != nil {
		t.Fatalf("seedAdmin again: %v", err)
	}
	n, err := s.UserCount(ctx)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}

func TestRecordCatalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cat := catalog.Default()

	if err := recordCatalog(ctx, s, cat); err != nil {
		t.Fatalf("recordCatalog: %v", err)
	}
	got, err := s.GetSetting(ctx, settingCatalogDigest)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got == "" || got != cat.Digest() {
		t.Errorf("expected digest %q, got %q", cat.Digest(), got)
	}
}

func TestOpenDrafts(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		backend string
		wantErr bool
	}{
		{"", false},
		{"sqlite", false},
		{"SQLite", false},
		{"memcached", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			v := viper.New()
			v.Set("draft-backend", tt.backend)
			drafts, closeFn, err := openDrafts(context.Background(), v, s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("openDrafts(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer closeFn()
			if drafts != wizard.DraftStore(s) {
				t.Errorf("expected the sqlite store as draft backend")
			}
		})
	}
}

type downPinger struct{ wizard.DraftStore }

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestPingBackends(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := pingBackends(ctx, s, s); err != nil {
		t.Errorf("expected sqlite drafts to be reachable, got %v", err)
	}
	if err := pingBackends(ctx, s, downPinger{s}); err == nil {
		t.Error("expected an unreachable draft backend to fail")
	}
}
