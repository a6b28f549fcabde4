package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSchemaCreation(t *testing.T) {
	j := testJournal(t)
	var count int
	if err := j.conn.QueryRow(`SELECT count(*) FROM entities`).Scan(&count); err != nil {
		t.Fatalf("entities table missing: %v", err)
	}
	if err := j.conn.QueryRow(`SELECT count(*) FROM failures`).Scan(&count); err != nil {
		t.Fatalf("failures table missing: %v", err)
	}
}

func TestRecordEntityFirstWins(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)

	if err := j.RecordEntity(ctx, Entity{SourceID: "7388842", StoreID: "01A", Level: "collection"}); err != nil {
		t.Fatalf("RecordEntity: %v", err)
	}
	if err := j.RecordEntity(ctx, Entity{SourceID: "7388842", StoreID: "01B", Level: "collection"}); err != nil {
		t.Fatalf("RecordEntity duplicate: %v", err)
	}
	if err := j.RecordEntity(ctx, Entity{SourceID: "7585787", StoreID: "01C", Level: "series"}); err != nil {
		t.Fatal(err)
	}

	got, err := j.Entities(ctx)
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].StoreID != "01A" || got[1].Level != "series" {
		t.Errorf("entities = %+v", got)
	}
}

func TestResetKeepsFailures(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)

	_ = j.RecordEntity(ctx, Entity{SourceID: "1", StoreID: "01A", Level: "fileunit"})
	if err := j.RecordFailure(ctx, Failure{Shard: 3, RecordIndex: 7, SourceID: "2", Level: "fileunit", Error: "boom"}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	if err := j.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	ents, _ := j.Entities(ctx)
	if len(ents) != 0 {
		t.Errorf("entities after reset = %d", len(ents))
	}
	fails, err := j.Failures(ctx, 0)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	if len(fails) != 1 || fails[0].Shard != 3 || fails[0].RecordIndex != 7 || fails[0].Error != "boom" {
		t.Errorf("failures = %+v", fails)
	}
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.RecordEntity(ctx, Entity{SourceID: "1", StoreID: "01A", Level: "fileunit"})
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	ents, _ := j.Entities(ctx)
	if len(ents) != 1 || ents[0].StoreID != "01A" {
		t.Errorf("entities after reopen = %+v", ents)
	}
}
