package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingIsFresh(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "cp.json"))
	s, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ShardIndex != 1 || s.RecordIndex != 0 || len(s.IDMap) != 0 || s.InstitutionID != "" {
		t.Errorf("fresh state = %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "nested", "cp.json"))
	want := &State{
		ShardIndex:    4,
		RecordIndex:   20,
		IDMap:         map[string]string{"7388842": "01A", "7585787": "01B"},
		InstitutionID: "01I",
		SavedAt:       time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
		RunID:         "run-1",
	}
	if err := f.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ShardIndex != 4 || got.RecordIndex != 20 || got.InstitutionID != "01I" || got.RunID != "run-1" {
		t.Errorf("state = %+v", got)
	}
	if got.IDMap["7585787"] != "01B" || len(got.IDMap) != 2 {
		t.Errorf("id map = %v", got.IDMap)
	}
	if !got.SavedAt.Equal(want.SavedAt) {
		t.Errorf("saved_at = %v", got.SavedAt)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := New(filepath.Join(dir, "cp.json"))
	for i := 0; i < 3; i++ {
		if err := f.Save(&State{ShardIndex: 1, RecordIndex: i, IDMap: map[string]string{}}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the checkpoint", len(entries))
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path).Load(); err == nil {
		t.Error("expected parse error")
	}
	if err := os.WriteFile(path, []byte(`{"shard_index":0,"record_index":0}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path).Load(); err == nil {
		t.Error("expected cursor error")
	}
}

func TestRemove(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "cp.json"))
	if err := f.Remove(); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	_ = f.Save(Fresh())
	if err := f.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
}
