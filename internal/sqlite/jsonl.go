package sqlite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// snapshotLine is one line of a JSONL snapshot: either a record or, when
// Sequence is set, an auto-increment counter.
type snapshotLine struct {
	Class    string                 `json:"class,omitempty"`
	Key      string                 `json:"key,omitempty"`
	Values   map[string]taggedValue `json:"values,omitempty"`
	Sequence string                 `json:"sequence,omitempty"`
	Counter  int64                  `json:"counter,omitempty"`
}

// ExportJSONL writes every record, then every counter, to path. The file is
// replaced atomically.
func (b *Backend) ExportJSONL(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrStoreDetached
	}

	var lines []json.RawMessage
	for _, rec := range b.mem.Records() {
		rj, err := toRecordJSON(rec)
		if err != nil {
			return err
		}
		line, err := json.Marshal(snapshotLine{Class: rj.Class, Key: rj.Key, Values: rj.Values})
		if err != nil {
			return fmt.Errorf("encoding %s: %w", rec.Key, err)
		}
		lines = append(lines, line)
	}

	counters := b.mem.Counters()
	classes := make([]string, 0, len(counters))
	for class := range counters {
		classes = append(classes, class)
	}
	slices.Sort(classes)
	for _, class := range classes {
		line, err := json.Marshal(snapshotLine{Sequence: class, Counter: counters[class]})
		if err != nil {
			return fmt.Errorf("encoding %s counter: %w", class, err)
		}
		lines = append(lines, line)
	}

	if err := writeJSONL(path, lines); err != nil {
		return err
	}
	b.logger.Info("exported snapshot", "path", path, "records", len(lines)-len(classes))
	return nil
}

// ImportJSONL loads a snapshot written by ExportJSONL. Records whose key
// already exists replace the stored record; the rest are inserted. All
// records are written in one batch. Counters are raised, never lowered.
// Malformed lines are skipped. Returns the number of records imported.
func (b *Backend) ImportJSONL(path string) (int, error) {
	raw, err := readJSONL(path)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return 0, types.ErrStoreDetached
	}

	var changes []types.Change
	seen := make(map[string]bool)
	counters := make(map[string]int64)
	for _, line := range raw {
		var sl snapshotLine
		if err := json.Unmarshal(line, &sl); err != nil {
			continue
		}
		if sl.Sequence != "" {
			counters[types.FoldName(sl.Sequence)] = max(counters[types.FoldName(sl.Sequence)], sl.Counter)
			continue
		}
		if sl.Class == "" || sl.Key == "" {
			continue
		}
		rec, err := fromRecordJSON(recordJSON{Class: sl.Class, Key: sl.Key, Values: sl.Values})
		if err != nil {
			return 0, fmt.Errorf("importing %s: %w", path, err)
		}

		id := types.FoldName(rec.Class) + "\x00" + rec.Key
		op := types.OpInsert
		if _, exists, _ := b.mem.Find(rec.Class, rec.Key); exists || seen[id] {
			op = types.OpUpdate
		}
		seen[id] = true
		changes = append(changes, types.Change{Op: op, Record: rec})
	}

	if err := b.applyLocked(changes); err != nil {
		return 0, fmt.Errorf("importing %s: %w", path, err)
	}
	for class, value := range counters {
		if err := saveSequence(b.db, class, value); err != nil {
			return len(changes), fmt.Errorf("saving %s counter: %w", class, err)
		}
		b.mem.SeedAutoIncrement(class, value)
	}
	b.logger.Info("imported snapshot", "path", path, "records", len(changes))
	return len(changes), nil
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
