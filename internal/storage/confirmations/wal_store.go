// Package confirmations persists deposit confirmation snapshots in a WAL.
package confirmations

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

const (
	defaultStoreDir       = "./wal/confirmations"
	storeSegmentLimit     = 1000
	storeMaxSegments      = 100
	confirmationKeyPrefix = "confirmation_"
)

type record struct {
	Index uint64                   `json:"index"`
	State domain.ConfirmationState `json:"state"`
}

// WALStore stores one record per poll.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed store under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultStoreDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "confirmation_",
		SegmentThreshold: storeSegmentLimit,
		MaxSegments:      storeMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init confirmation WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends a snapshot. The account must be set.
func (s *WALStore) Save(state domain.ConfirmationState) error {
	if s == nil || s.wal == nil {
		return errors.New("confirmation store is not initialized")
	}
	if state.Account == "" {
		return fmt.Errorf("confirmation account is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{Index: s.wal.CurrentIndex() + 1, State: state}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal confirmation state")
	}

	return s.wal.Write(rec.Index, confirmationKeyPrefix+state.Account, payload)
}

// RecordsAfter returns snapshots written after index, oldest first.
func (s *WALStore) RecordsAfter(index uint64) ([]domain.ConfirmationRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("confirmation store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= index {
		return nil, nil
	}

	var records []domain.ConfirmationRecord
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, confirmationKeyPrefix) {
			continue
		}
		var rec record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, errors.Wrap(err, "decode confirmation state")
		}
		if rec.Index > index {
			records = append(records, domain.ConfirmationRecord{Index: rec.Index, State: rec.State})
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// Latest returns the most recent snapshot for account.
func (s *WALStore) Latest(account string) (domain.ConfirmationState, bool, error) {
	records, err := s.RecordsAfter(0)
	if err != nil {
		return domain.ConfirmationState{}, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].State.Account == account {
			return records[i].State, true, nil
		}
	}
	return domain.ConfirmationState{}, false, nil
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
		return errors.New("confirmation store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
