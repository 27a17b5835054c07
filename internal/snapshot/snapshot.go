// Package snapshot writes world snapshots as zstd-compressed JSON files:
// one header line followed by the snapshot body.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/candy-cartel/internal/engine"
)

// Ext is the file extension of snapshot files.
const Ext = ".json.zst"

// Header is the first line of a snapshot file, readable without decoding
// the body.
type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Agents  int    `json:"agents"`
}

// PathFor names the snapshot file for a tick inside dir.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snap-%012d%s", tick, Ext))
}

// Write stores snap at path, replacing any existing file.
func Write(path, worldID string, snap engine.Snapshot) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hdr := Header{Version: snap.Version, WorldID: worldID, Tick: snap.Tick, Agents: len(snap.Agents)}
	if err := writeLine(bw, hdr); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := writeLine(bw, snap); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeLine(w *bufio.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// Read loads a snapshot file.
func Read(path string) (Header, engine.Snapshot, error) {
	var (
		hdr  Header
		snap engine.Snapshot
	)
	f, err := os.Open(path)
	if err != nil {
		return hdr, snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, snap, err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024))
	if err := jd.Decode(&hdr); err != nil {
		return hdr, snap, fmt.Errorf("read header: %w", err)
	}
	if err := jd.Decode(&snap); err != nil {
		return hdr, snap, fmt.Errorf("read body: %w", err)
	}
	if hdr.Tick != snap.Tick {
		return hdr, snap, fmt.Errorf("header tick %d does not match body tick %d", hdr.Tick, snap.Tick)
	}
	return hdr, snap, nil
}

// List returns the snapshot files in dir, oldest tick first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	// Zero-padded ticks sort lexically.
	sort.Strings(out)
	return out, nil
}

// Latest returns the newest snapshot in dir, or "" when there is none.
func Latest(dir string) (string, error) {
	files, err := List(dir)
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[len(files)-1], nil
}

// Prune keeps the newest keep snapshots in dir and deletes the rest.
func Prune(dir string, keep int) error {
	files, err := List(dir)
	if err != nil {
		return err
	}
	for len(files) > keep {
		if err := os.Remove(files[0]); err != nil {
			return err
		}
		files = files[1:]
	}
	return nil
}
