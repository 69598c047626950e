package persistence_test

import (
	"context"
	"testing"
	"time"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/persistence"
	"ReserveBank/internal/storage"
	"ReserveBank/internal/testutil"
	"ReserveBank/migrations"
)

func setup(t *testing.T) (*persistence.EventLogWriter, *persistence.PostgresIdempotencyChecker, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	return persistence.NewEventLogWriter(db), persistence.NewPostgresIdempotencyChecker(db), cleanup
}

func emit(t *testing.T) []core.Output {
	t.Helper()
	ch := make(chan core.Output, 16)
	e := core.NewEngine(core.Options{PersistChan: ch})
	a := ledger.AccountFromSeed("a")
	b := ledger.AccountFromSeed("b")
	if _, err := e.Genesis(a, ledger.NewAmount(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Transfer("req-1", a, b, ledger.NewAmount(40)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Borrow("req-2", b, a, ledger.NewAmount(15)); err != nil {
		t.Fatal(err)
	}
	close(ch)
	var outs []core.Output
	for o := range ch {
		outs = append(outs, o)
	}
	return outs
}

func rows(outs []core.Output) []persistence.EventRow {
	r := make([]persistence.EventRow, 0, len(outs))
	for _, o := range outs {
		r = append(r, persistence.EventRowFromEnvelope(o.Envelope))
	}
	return r
}

func TestEventLogWriter_WriteIsIdempotent(t *testing.T) {
	w, _, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()
	outs := emit(t)

	if err := w.WriteEvents(ctx, rows(outs)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteEvents(ctx, rows(outs)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 3 {
		t.Errorf("last sequence: got %d, want 3", last)
	}

	var got []persistence.EventRow
	if err := w.ReadAfter(ctx, 1, func(r persistence.EventRow) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Sequence != 2 || got[0].IdempotencyKey != "req-1" {
		t.Fatalf("read after 1: %+v", got)
	}
	if got[1].EventID != outs[2].Envelope.EventID {
		t.Errorf("event id: got %s, want %s", got[1].EventID, outs[2].Envelope.EventID)
	}
}

func TestEventLogWriter_EmptyLog(t *testing.T) {
	w, _, cleanup := setup(t)
	defer cleanup()

	last, err := w.LastSequence(context.Background())
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 0 {
		t.Errorf("last sequence: got %d, want 0", last)
	}
}

func TestPostgresIdempotency_FindsLoggedKeys(t *testing.T) {
	w, checker, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	if err := w.WriteEvents(ctx, rows(emit(t))); err != nil {
		t.Fatalf("write: %v", err)
	}

	dup, err := checker.IsDuplicate("transfer", "req-1")
	if err != nil || !dup {
		t.Errorf("transfer req-1: dup=%v err=%v", dup, err)
	}
	dup, err = checker.IsDuplicate("borrow", "req-1")
	if err != nil || dup {
		t.Errorf("borrow req-1 must not collide with transfer: dup=%v err=%v", dup, err)
	}

	keys, err := checker.RecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	want := []string{"genesis:genesis", "transfer:req-1", "borrow:req-2"}
	if len(keys) != len(want) {
		t.Fatalf("recent keys: got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: got %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestWorker_PostgresEndToEnd(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	outs := emit(t)
	in := make(chan core.Output, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)

	store := storage.NewPostgresStore(db)
	w := persistence.NewWorker(persistence.WorkerConfig{
		Sink:         persistence.NewEventLogWriter(db),
		Store:        store,
		Backend:      "postgres",
		Input:        in,
		FlushTimeout: time.Second,
	})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	snap, err := storage.LoadState(context.Background(), store)
	if err != nil || snap == nil {
		t.Fatalf("load: snap=%v err=%v", snap, err)
	}
	if snap.Sequence != 3 || snap.StateHash != outs[2].Envelope.StateHash {
		t.Errorf("stored sequence %d does not match last output", snap.Sequence)
	}
}

func TestMigrator_UpIsIdempotentAndDownRollsBack(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := persistence.NewMigrator(db, migrations.FS)
	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if n != 0 {
		t.Errorf("second up applied %d migrations", n)
	}

	rolled, err := m.Down(ctx)
	if err != nil || !rolled {
		t.Fatalf("down: rolled=%v err=%v", rolled, err)
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending after down: %v", pending)
	}
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("re-up: %v", err)
	}
}
