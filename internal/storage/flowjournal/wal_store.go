// Package flowjournal records every orchestrated flow transition in a WAL.
package flowjournal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
)

const (
	defaultJournalDir   = "./wal/flows"
	journalSegmentLimit = 1000
	journalMaxSegments  = 100
	flowKeyPrefix       = "flow_"
)

// Entry persisted flow transition.
type Entry struct {
	Index      uint64                   `json:"index"`
	ID         string                   `json:"id"`
	Action     string                   `json:"action"`
	Phase      string                   `json:"phase"`
	FailedAt   string                   `json:"failed_at,omitempty"`
	Steps      []domain.TransactionStep `json:"steps"`
	Error      string                   `json:"error,omitempty"`
	BlockIndex *uint64                  `json:"block_index,omitempty"`
	MinOut     string                   `json:"min_out,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// Terminal reports whether the flow had finished when the entry was written.
func (e Entry) Terminal() bool {
	return orchestrator.Phase(e.Phase).Terminal()
}

// WALStore journal of flow transitions.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "flow_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init flow journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append implements orchestrator.Journal.
func (s *WALStore) Append(f orchestrator.Flow) error {
	if s == nil || s.wal == nil {
		return errors.New("flow journal is not initialized")
	}
	if f.ID == "" {
		return fmt.Errorf("flow id is required")
	}

	entry := Entry{
		ID:         f.ID,
		Action:     string(f.Action),
		Phase:      string(f.Phase),
		FailedAt:   string(f.FailedAt),
		Steps:      f.Steps,
		Error:      f.Error,
		BlockIndex: f.Result.BlockIndex,
		StartedAt:  f.StartedAt,
		UpdatedAt:  f.UpdatedAt,
	}
	if f.Result.MinOut != nil {
		entry.MinOut = f.Result.MinOut.Dec()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Index = s.wal.CurrentIndex() + 1
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal flow entry")
	}

	return s.wal.Write(entry.Index, flowKeyPrefix+f.ID, payload)
}

// EntriesAfter returns transitions written after the given WAL index, oldest first.
func (s *WALStore) EntriesAfter(index uint64) ([]Entry, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("flow journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= index {
		return nil, nil
	}

	var entries []Entry
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, flowKeyPrefix) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return nil, errors.Wrap(err, "decode flow entry")
		}
		if e.Index > index {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

// Latest returns the last known state of every journaled flow, newest first.
func (s *WALStore) Latest() ([]Entry, error) {
	all, err := s.EntriesAfter(0)
	if err != nil {
		return nil, err
	}

	last := make(map[string]Entry, len(all))
	for _, e := range all {
		last[e.ID] = e
	}

	out := make([]Entry, 0, len(last))
	for _, e := range last {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	return out, nil
}

// Interrupted returns flows whose last journaled phase is not terminal,
// e.g. after the process died mid-flow. Completed steps are not rolled back.
func (s *WALStore) Interrupted() ([]Entry, error) {
	latest, err := s.Latest()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range latest {
		if !e.Terminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("flow journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
