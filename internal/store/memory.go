// Package store provides implementations of the pipeline's persistence
// boundary: an embedded Badger-backed store for real use and an in-memory
// store for tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/gate"
	"github.com/vampirenirmal/stageflow/internal/stage"
)

// Memory is an in-memory Store. Records are deep-copied on the way in and
// out so callers cannot mutate persisted state without going through
// UpdateStage, which keeps version conflicts honest.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[uuid.UUID]*stage.Account
	stages      map[uuid.UUID]map[int]*stage.Stage
	validations map[uuid.UUID]map[int][]*gate.Record
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[uuid.UUID]*stage.Account),
		stages:      make(map[uuid.UUID]map[int]*stage.Stage),
		validations: make(map[uuid.UUID]map[int][]*gate.Record),
	}
}

func (m *Memory) CreateAccount(ctx context.Context, account *stage.Account, stages []*stage.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}

	m.accounts[account.ID] = clone(account)
	byNumber := make(map[int]*stage.Stage, len(stages))
	for _, s := range stages {
		byNumber[s.Number] = clone(s)
	}
	m.stages[account.ID] = byNumber
	m.validations[account.ID] = make(map[int][]*gate.Record)
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, accountID uuid.UUID) (*stage.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, stage.ErrNotFound)
	}
	return clone(account), nil
}

func (m *Memory) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; !ok {
		return fmt.Errorf("account %s: %w", accountID, stage.ErrNotFound)
	}
	delete(m.accounts, accountID)
	delete(m.stages, accountID)
	delete(m.validations, accountID)
	return nil
}

func (m *Memory) GetStage(ctx context.Context, accountID uuid.UUID, number int) (*stage.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stages[accountID][number]
	if !ok {
		return nil, fmt.Errorf("stage %d of account %s: %w", number, accountID, stage.ErrNotFound)
	}
	return clone(s), nil
}

func (m *Memory) ListStages(ctx context.Context, accountID uuid.UUID) ([]*stage.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byNumber, ok := m.stages[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, stage.ErrNotFound)
	}

	out := make([]*stage.Stage, 0, len(byNumber))
	for _, s := range byNumber {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) UpdateStage(ctx context.Context, s *stage.Stage, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.stages[s.AccountID][s.Number]
	if !ok {
		return fmt.Errorf("stage %d of account %s: %w", s.Number, s.AccountID, stage.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("stage %d of account %s: %w (have %d, expected %d)",
			s.Number, s.AccountID, stage.ErrVersionConflict, current.Version, expectedVersion)
	}

	s.Version = expectedVersion + 1
	m.stages[s.AccountID][s.Number] = clone(s)
	return nil
}

func (m *Memory) AppendValidation(ctx context.Context, record *gate.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStage, ok := m.validations[record.AccountID]
	if !ok {
		return fmt.Errorf("account %s: %w", record.AccountID, stage.ErrNotFound)
	}
	byStage[record.StageNumber] = append(byStage[record.StageNumber], clone(record))
	return nil
}

func (m *Memory) ListValidations(ctx context.Context, accountID uuid.UUID, number int) ([]*gate.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byStage, ok := m.validations[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, stage.ErrNotFound)
	}

	records := byStage[number]
	out := make([]*gate.Record, len(records))
	for i, r := range records {
		out[i] = clone(r)
	}
	return out, nil
}

// clone deep-copies a record through its JSON form. Stage state carries
// nested maps, so a structural copy is the simple safe option here.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: cloning %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: cloning %T: %v", v, err))
	}
	return out
}
