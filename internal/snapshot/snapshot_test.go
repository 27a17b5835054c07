package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/talgya/candy-cartel/internal/config"
	"github.com/talgya/candy-cartel/internal/engine"
)

func takeSnapshot(t *testing.T, ticks int) engine.Snapshot {
	t.Helper()
	cfg := config.Default()
	cfg.Agents = 8
	w := engine.New(cfg, engine.Options{})
	for i := 0; i < ticks; i++ {
		w.Step()
	}
	snap, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestWriteRead(t *testing.T) {
	snap := takeSnapshot(t, 70)
	path := PathFor(t.TempDir(), snap.Tick)
	if err := Write(path, "world-1", snap); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	hdr, got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if hdr.WorldID != "world-1" || hdr.Tick != snap.Tick || hdr.Agents != len(snap.Agents) {
		t.Errorf("header = %+v", hdr)
	}
	want, _ := json.Marshal(snap)
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		t.Error("snapshot body changed through the file")
	}
}

func TestListLatestPrune(t *testing.T) {
	dir := t.TempDir()
	snap := takeSnapshot(t, 1)
	for _, tick := range []uint64{30, 5, 120} {
		s := snap
		s.Tick = tick
		if err := Write(PathFor(dir, tick), "w", s); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 || files[0] != PathFor(dir, 5) {
		t.Fatalf("List = %v", files)
	}
	latest, err := Latest(dir)
	if err != nil || latest != PathFor(dir, 120) {
		t.Fatalf("Latest = %q, %v", latest, err)
	}
	if err := Prune(dir, 1); err != nil {
		t.Fatal(err)
	}
	if files, _ := List(dir); len(files) != 1 || files[0] != PathFor(dir, 120) {
		t.Errorf("after prune: %v", files)
	}
}

func TestLatestMissingDir(t *testing.T) {
	got, err := Latest(filepath.Join(t.TempDir(), "none"))
	if err != nil || got != "" {
		t.Errorf("Latest on missing dir = %q, %v", got, err)
	}
}
