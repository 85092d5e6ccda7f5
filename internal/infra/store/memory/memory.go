// Package memory is the in-process implementation of every storage port.
// Transaction history is indexed in B-trees ordered by timestamp so window
// reads are a bounded descending scan.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/tidwall/btree"
)

// orderKey sorts by timestamp, then by id. The fixed-width layout keeps
// lexical and chronological order identical.
func orderKey(t time.Time, id string) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z") + "|" + id
}

type index map[string]*btree.Map[string, domain.Transaction]

func (ix index) put(key, k string, t domain.Transaction) {
	if key == "" {
		return
	}
	m, ok := ix[key]
	if !ok {
		m = btree.NewMap[string, domain.Transaction](32)
		ix[key] = m
	}
	m.Set(k, t)
}

func (ix index) drop(key, k string) {
	if m, ok := ix[key]; ok {
		m.Delete(k)
	}
}

// Store keeps history, profiles, assessments and alerts in memory.
// It is safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	byEntity       index
	byCounterparty index
	byAccount      index
	keys           map[string]domain.Transaction // txn id -> stored copy

	profiles    map[string]*domain.EntityProfile
	assessments map[string]*domain.RiskAssessment
	alerts      map[string]*domain.AlertRecord
}

func New() *Store {
	return &Store{
		byEntity:       index{},
		byCounterparty: index{},
		byAccount:      index{},
		keys:           map[string]domain.Transaction{},
		profiles:       map[string]*domain.EntityProfile{},
		assessments:    map[string]*domain.RiskAssessment{},
		alerts:         map[string]*domain.AlertRecord{},
	}
}

// ============================================================
// HistoryStore
// ============================================================

func (s *Store) Window(_ context.Context, entityID string, before time.Time, limit int) (domain.HistoricalWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byEntity[entityID]
	if !ok {
		return domain.HistoricalWindow{}, nil
	}
	var out domain.HistoricalWindow
	m.Descend(orderKey(before, ""), func(_ string, t domain.Transaction) bool {
		if !t.Timestamp.Before(before) {
			return true
		}
		out = append(out, t)
		return limit <= 0 || len(out) < limit
	})
	reverse(out)
	if out == nil {
		out = domain.HistoricalWindow{}
	}
	return out, nil
}

func (s *Store) ByCounterparty(_ context.Context, counterparty string, since, before time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanRange(s.byCounterparty[domain.NormalizeVendor(counterparty)], since, before), nil
}

func (s *Store) ByAccount(_ context.Context, accountID string, since, before time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanRange(s.byAccount[accountID], since, before), nil
}

// Append stores txn. Appending an id twice replaces the earlier copy.
func (s *Store) Append(_ context.Context, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.keys[txn.ID]; ok {
		k := orderKey(prev.Timestamp, prev.ID)
		s.byEntity.drop(prev.Entity(), k)
		s.byCounterparty.drop(prev.Vendor(), k)
		s.byAccount.drop(prev.AccountID, k)
	}
	k := orderKey(txn.Timestamp, txn.ID)
	s.byEntity.put(txn.Entity(), k, txn)
	s.byCounterparty.put(txn.Vendor(), k, txn)
	s.byAccount.put(txn.AccountID, k, txn)
	s.keys[txn.ID] = txn
	return nil
}

func scanRange(m *btree.Map[string, domain.Transaction], since, before time.Time) []domain.Transaction {
	out := []domain.Transaction{}
	if m == nil {
		return out
	}
	m.Ascend(orderKey(since, ""), func(_ string, t domain.Transaction) bool {
		if !t.Timestamp.Before(before) {
			return false
		}
		out = append(out, t)
		return true
	})
	return out
}

func reverse(w domain.HistoricalWindow) {
	for i, j := 0, len(w)-1; i < j; i, j = i+1, j-1 {
		w[i], w[j] = w[j], w[i]
	}
}

// ============================================================
// ProfileStore
// ============================================================

func (s *Store) GetProfile(_ context.Context, entityID string) (*domain.EntityProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[entityID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: entityID}
	}
	return p.Clone(), nil
}

func (s *Store) SaveProfile(_ context.Context, p *domain.EntityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.EntityID] = p.Clone()
	return nil
}

// ============================================================
// AssessmentStore
// ============================================================

func (s *Store) SaveAssessment(_ context.Context, a *domain.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assessments[a.TransactionID] = &cp
	return nil
}

func (s *Store) GetAssessment(_ context.Context, transactionID string) (*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assessments[transactionID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "assessment", ID: transactionID}
	}
	cp := *a
	return &cp, nil
}

// ============================================================
// AlertStore
// ============================================================

func (s *Store) SaveAlert(_ context.Context, a *domain.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *Store) GetAlert(_ context.Context, alertID string) (*domain.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "alert", ID: alertID}
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateAlert(_ context.Context, a *domain.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[a.ID]; !ok {
		return &domain.ErrNotFound{Resource: "alert", ID: a.ID}
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// ListAlerts returns the entity's alerts, newest first. An empty status matches all.
func (s *Store) ListAlerts(_ context.Context, entityID string, status domain.AlertStatus) ([]domain.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.AlertRecord{}
	for _, a := range s.alerts {
		if a.EntityID != entityID || (status != "" && a.Status != status) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
