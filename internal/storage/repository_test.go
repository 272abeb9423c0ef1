package storage

import (
	"context"
	"testing"
)

// TestRegisterDuplicatePanics verifies that registering the same kind twice
// panics instead of silently replacing the factory.
func TestRegisterDuplicatePanics(t *testing.T) {
	fake := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }

	Register("dup_kind_test", fake)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate Register")
		}
	}()
	Register("dup_kind_test", fake)
}

// TestRegisterEmptyKindPanics verifies the empty-kind guard.
func TestRegisterEmptyKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on empty kind")
		}
	}()
	Register("", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })
}

// TestRegisterNilFactoryPanics verifies the nil-factory guard.
func TestRegisterNilFactoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on nil factory")
		}
	}()
	Register("nil_factory_test", nil)
}

// TestNewUnknownKind verifies unregistered and empty kinds fail with an
// error rather than a nil Repository.
func TestNewUnknownKind(t *testing.T) {
	if _, err := New(context.Background(), Config{Kind: "no_such_backend"}); err == nil {
		t.Error("expected error for unregistered kind")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty kind")
	}
}

// TestValidateIdent covers accepted and rejected table names.
func TestValidateIdent(t *testing.T) {
	t.Parallel()

	valid := []string{"tracks", "spotify_tracks", "_tmp", "T1"}
	for _, name := range valid {
		if err := ValidateIdent(name); err != nil {
			t.Errorf("ValidateIdent(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "1tracks", "drop table", `tracks"; --`, "tracks-v2", "naïve"}
	for _, name := range invalid {
		if err := ValidateIdent(name); err == nil {
			t.Errorf("ValidateIdent(%q) = nil, want error", name)
		}
	}
}
