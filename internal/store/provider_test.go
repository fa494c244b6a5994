package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/config"
	"github.com/jensholdgaard/auction-settlement/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/auction-settlement/internal/store/boltstore"
	_ "github.com/jensholdgaard/auction-settlement/internal/store/entstore"
	_ "github.com/jensholdgaard/auction-settlement/internal/store/postgres"
)

// fakeDriver is a store.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (*store.Repositories, error) {
	return &store.Repositories{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{
			name:   "registered driver succeeds",
			driver: "test-driver",
		},
		{
			name:    "unknown driver fails",
			driver:  "nonexistent",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	// The SQL drivers are registered via init() but cannot connect here, so
	// the error must be a connection error rather than "unknown driver".
	for _, driver := range []string{"sqlx", "ent"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: driver, Host: "localhost", Port: 1, SSLMode: "disable"}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if err == nil {
				t.Fatal("expected error (no DB running), got nil")
			}
			if strings.Contains(err.Error(), "unknown store driver") {
				t.Errorf("expected connection error, got unknown driver error: %v", err)
			}
		})
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("connection reset")
	err := store.Fail("updating auction", cause)

	if !errors.Is(err, store.ErrPersistence) {
		t.Error("expected errors.Is(err, ErrPersistence)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrappable")
	}
	var pe *store.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "updating auction" {
		t.Errorf("errors.As = %+v, want Op %q", pe, "updating auction")
	}
	if got, want := err.Error(), "updating auction: connection reset"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if store.Fail("noop", nil) != nil {
		t.Error("Fail(nil) should be nil")
	}
}
