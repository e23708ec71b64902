// v3
// internal/store/file.go
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

// File persists zone state as a JSONL journal: one merge patch per line,
// replayed into memory on open. When the journal grows past maxRecords it is
// compacted to one full-document patch per zone. The default backend; no
// external service needed.
type File struct {
	mu         sync.RWMutex
	path       string
	log        *slog.Logger
	file       *os.File
	writer     *bufio.Writer
	docs       map[string]map[string]any
	records    int
	maxRecords int
}

type journalRecord struct {
	ZoneID string         `json:"zoneId"`
	Fields map[string]any `json:"fields"`
}

const defaultMaxJournalRecords = 4096

func NewFile(path string, log *slog.Logger) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fs := &File{
		path:       path,
		log:        log,
		file:       f,
		writer:     bufio.NewWriter(f),
		docs:       map[string]map[string]any{},
		maxRecords: defaultMaxJournalRecords,
	}
	if err := fs.load(); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *File) load() error {
	fs.log.Info("loading", slog.String("path", fs.path))
	if _, err := fs.file.Seek(0, 0); err != nil {
		return err
	}
	fs.docs = map[string]map[string]any{}
	fs.records = 0
	scanner := bufio.NewScanner(fs.file)
	var line int
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ZoneID == "" {
			return fmt.Errorf("line %d: record without zoneId", line)
		}
		doc, ok := fs.docs[rec.ZoneID]
		if !ok {
			doc = map[string]any{}
			fs.docs[rec.ZoneID] = doc
		}
		for k, v := range rec.Fields {
			doc[k] = v
		}
		if r, ok := doc["reason"]; ok {
			if s, isStr := r.(string); isStr && s == "" {
				delete(doc, "reason")
			}
		}
		fs.records++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	fs.writer = bufio.NewWriter(fs.file)
	fs.log.Info("loaded", slog.Int("records", fs.records), slog.Int("zones", len(fs.docs)))
	return nil
}

func (fs *File) Get(_ context.Context, zoneID string) (zone.State, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	doc, ok := fs.docs[zoneID]
	if !ok {
		return zone.DefaultState(), nil
	}
	return docToState(doc)
}

func (fs *File) Merge(_ context.Context, zoneID string, fields map[string]any) (zone.State, error) {
	if err := rejectControlFields(fields); err != nil {
		return zone.State{}, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.apply(zoneID, fields)
}

func (fs *File) SetValve(_ context.Context, zoneID, valve, reason string, manualOverride bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.apply(zoneID, valveFields(valve, reason, manualOverride))
	return err
}

// apply journals the patch first, then folds it into the in-memory document.
// A write failure therefore leaves the memory view untouched.
func (fs *File) apply(zoneID string, fields map[string]any) (zone.State, error) {
	doc, ok := fs.docs[zoneID]
	if !ok {
		doc = map[string]any{}
	}
	staged := make(map[string]any, len(doc)+len(fields))
	for k, v := range doc {
		staged[k] = v
	}
	applyFields(staged, fields)

	patch := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["lastUpdated"] = staged["lastUpdated"]
	if err := fs.appendRecord(journalRecord{ZoneID: zoneID, Fields: patch}); err != nil {
		return zone.State{}, err
	}
	fs.docs[zoneID] = staged
	if fs.records > fs.maxRecords {
		if err := fs.compact(); err != nil {
			fs.log.Error("journal_compact_err", slog.Any("err", err))
		}
	}
	return docToState(staged)
}

func (fs *File) appendRecord(rec journalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := fs.writer.Write(payload); err != nil {
		return err
	}
	if err := fs.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := fs.writer.Flush(); err != nil {
		return err
	}
	if err := fs.file.Sync(); err != nil {
		return err
	}
	fs.records++
	return nil
}

// compact rewrites the journal as one full-document patch per zone. Written
// to a temp file first so a crash mid-compaction cannot lose the journal.
func (fs *File) compact() error {
	tmp := fs.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	count := 0
	for zoneID, doc := range fs.docs {
		payload, err := json.Marshal(journalRecord{ZoneID: zoneID, Fields: doc})
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(payload); err != nil {
			f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return err
		}
		count++
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := fs.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(fs.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fs.file = nf
	fs.writer = bufio.NewWriter(nf)
	fs.records = count
	fs.log.Info("journal_compacted", slog.Int("records", count))
	return nil
}

func (fs *File) All(_ context.Context) (map[string]zone.State, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make(map[string]zone.State, len(fs.docs))
	for id, doc := range fs.docs {
		st, err := docToState(doc)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

func (fs *File) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.writer.Flush(); err != nil {
		fs.file.Close()
		return err
	}
	return fs.file.Close()
}
