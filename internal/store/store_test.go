package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/gate"
	"github.com/vampirenirmal/stageflow/internal/stage"
)

// Both implementations must satisfy the same persistence contract, so every
// behavior test runs against each.
func forEachStore(t *testing.T, fn func(t *testing.T, s stage.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("badger", func(t *testing.T) {
		db, err := OpenBadger(BadgerConfig{InMemory: true})
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		fn(t, db)
	})
}

func seedAccount(t *testing.T, s stage.Store) *stage.Account {
	t.Helper()
	now := time.Now().UTC()
	account := &stage.Account{
		ID:         uuid.New(),
		ClientName: "Acme Corp",
		CreatedAt:  now,
	}
	if err := s.CreateAccount(context.Background(), account, stage.NewAccountStages(account.ID, now)); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

func TestDefaultBadgerConfig(t *testing.T) {
	cfg := DefaultBadgerConfig("/var/lib/stageflow")
	if cfg.Path != "/var/lib/stageflow" {
		t.Errorf("Path = %q", cfg.Path)
	}
	if !cfg.SyncWrites {
		t.Errorf("production default should sync writes")
	}
	if cfg.InMemory {
		t.Errorf("production default should persist to disk")
	}
}

func TestCreateAndListStages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stage.Store) {
		account := seedAccount(t, s)

		stages, err := s.ListStages(context.Background(), account.ID)
		if err != nil {
			t.Fatalf("ListStages: %v", err)
		}
		if len(stages) != 7 {
			t.Fatalf("stages = %d, want 7", len(stages))
		}
		for i, st := range stages {
			if st.Number != i+1 {
				t.Errorf("stage at index %d has number %d", i, st.Number)
			}
			want := stage.StatusLocked
			if st.Number == 1 {
				want = stage.StatusInProgress
			}
			if st.Status != want {
				t.Errorf("stage %d status = %s, want %s", st.Number, st.Status, want)
			}
		}

		got, err := s.GetAccount(context.Background(), account.ID)
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if got.ClientName != "Acme Corp" {
			t.Errorf("ClientName = %q", got.ClientName)
		}
	})
}

func TestGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stage.Store) {
		ctx := context.Background()
		missing := uuid.New()

		if _, err := s.GetAccount(ctx, missing); !errors.Is(err, stage.ErrNotFound) {
			t.Errorf("GetAccount: got %v, want ErrNotFound", err)
		}
		if _, err := s.GetStage(ctx, missing, 1); !errors.Is(err, stage.ErrNotFound) {
			t.Errorf("GetStage: got %v, want ErrNotFound", err)
		}
		if err := s.DeleteAccount(ctx, missing); !errors.Is(err, stage.ErrNotFound) {
			t.Errorf("DeleteAccount: got %v, want ErrNotFound", err)
		}
	})
}

func TestUpdateStageVersioning(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stage.Store) {
		ctx := context.Background()
		account := seedAccount(t, s)

		st, err := s.GetStage(ctx, account.ID, 1)
		if err != nil {
			t.Fatalf("GetStage: %v", err)
		}

		st.State.Turns = append(st.State.Turns, stage.Turn{Role: "user", Content: "hello"})
		if err := s.UpdateStage(ctx, st, 0); err != nil {
			t.Fatalf("UpdateStage: %v", err)
		}
		if st.Version != 1 {
			t.Errorf("Version = %d, want 1 after commit", st.Version)
		}

		// A writer still holding the old version must lose.
		stale := *st
		if err := s.UpdateStage(ctx, &stale, 0); !errors.Is(err, stage.ErrVersionConflict) {
			t.Fatalf("stale write: got %v, want ErrVersionConflict", err)
		}

		// The committed read reflects only the winning write.
		got, err := s.GetStage(ctx, account.ID, 1)
		if err != nil {
			t.Fatalf("GetStage: %v", err)
		}
		if got.Version != 1 || len(got.State.Turns) != 1 {
			t.Errorf("committed state = version %d, %d turns", got.Version, len(got.State.Turns))
		}
	})
}

func TestStoredStageIsIsolated(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stage.Store) {
		ctx := context.Background()
		account := seedAccount(t, s)

		first, _ := s.GetStage(ctx, account.ID, 1)
		first.Status = stage.StatusCompleted
		first.State.Turns = append(first.State.Turns, stage.Turn{Role: "user", Content: "mutated"})

		// Mutating a read copy must not leak into the store.
		second, err := s.GetStage(ctx, account.ID, 1)
		if err != nil {
			t.Fatalf("GetStage: %v", err)
		}
		if second.Status != stage.StatusInProgress || len(second.State.Turns) != 0 {
			t.Errorf("read copy mutation leaked into the store: %+v", second)
		}
	})
}

func TestValidationAuditTrail(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stage.Store) {
		ctx := context.Background()
		account := seedAccount(t, s)

		for i, score := range []float64{4.0, 6.5, 8.0} {
			record := gate.NewRecord(account.ID, 3, &gate.Result{
				Approved:     i == 2,
				CanProceed:   i == 2,
				OverallScore: score,
				ValidatedAt:  time.Now().UTC(),
			})
			if err := s.AppendValidation(ctx, record); err != nil {
				t.Fatalf("AppendValidation %d: %v", i, err)
			}
			// Distinct timestamps keep the trail ordered.
			time.Sleep(2 * time.Millisecond)
		}

		records, err := s.ListValidations(ctx, account.ID, 3)
		if err != nil {
			t.Fatalf("ListValidations: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("records = %d, want 3", len(records))
		}
		for i, want := range []float64{4.0, 6.5, 8.0} {
			if records[i].OverallScore != want {
				t.Errorf("record %d score = %v, want %v", i, records[i].OverallScore, want)
			}
		}

		other, err := s.ListValidations(ctx, account.ID, 1)
		if err != nil {
			t.Fatalf("ListValidations(1): %v", err)
		}
		if len(other) != 0 {
			t.Errorf("stage 1 has %d records, want none", len(other))
		}
	})
}

func TestDeleteAccountCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stage.Store) {
		ctx := context.Background()
		account := seedAccount(t, s)

		record := gate.NewRecord(account.ID, 1, &gate.Result{Approved: true, CanProceed: true})
		if err := s.AppendValidation(ctx, record); err != nil {
			t.Fatalf("AppendValidation: %v", err)
		}

		if err := s.DeleteAccount(ctx, account.ID); err != nil {
			t.Fatalf("DeleteAccount: %v", err)
		}

		if _, err := s.GetAccount(ctx, account.ID); !errors.Is(err, stage.ErrNotFound) {
			t.Errorf("account survived delete: %v", err)
		}
		if _, err := s.GetStage(ctx, account.ID, 1); !errors.Is(err, stage.ErrNotFound) {
			t.Errorf("stage survived delete: %v", err)
		}
	})
}
