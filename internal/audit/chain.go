// Package audit keeps a tamper-evident, append-only record of every
// assessment. Each entry's digest covers the previous digest, so editing or
// dropping an entry breaks verification of everything after it.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Entry is one link of the chain.
type Entry struct {
	Seq           int64     `json:"seq"`
	AssessmentID  string    `json:"assessment_id"`
	TransactionID string    `json:"transaction_id"`
	PrevDigest    string    `json:"prev_digest"`
	Digest        string    `json:"digest"`
	Payload       []byte    `json:"payload"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Sink persists entries in sequence order.
type Sink interface {
	AppendEntry(ctx context.Context, e Entry) error
	// LastEntry returns nil, nil on an empty chain.
	LastEntry(ctx context.Context) (*Entry, error)
}

// Chain appends assessments to a Sink. Record calls are serialized.
type Chain struct {
	mu     sync.Mutex
	sink   Sink
	seq    int64
	last   string
	now    func() time.Time
	logger *zap.Logger
}

// NewChain resumes the chain stored in sink.
func NewChain(ctx context.Context, sink Sink, now func() time.Time, logger *zap.Logger) (*Chain, error) {
	if now == nil {
		now = time.Now
	}
	c := &Chain{sink: sink, now: now, logger: logger}
	last, err := sink.LastEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit head: %w", err)
	}
	if last != nil {
		c.seq, c.last = last.Seq, last.Digest
	}
	return c, nil
}

// Record appends a.
func (c *Chain) Record(ctx context.Context, a *domain.RiskAssessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{
		Seq:           c.seq + 1,
		AssessmentID:  a.ID,
		TransactionID: a.TransactionID,
		PrevDigest:    c.last,
		Payload:       payload,
		RecordedAt:    c.now().UTC(),
	}
	e.Digest = Digest(e)
	if err := c.sink.AppendEntry(ctx, e); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	c.seq, c.last = e.Seq, e.Digest

	c.logger.Debug("audit entry appended",
		zap.Int64("seq", e.Seq),
		zap.String("assessment_id", e.AssessmentID),
	)
	return nil
}

// Digest is blake2b-256 over seq, the previous digest and the payload.
func Digest(e Entry) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%d\n%s\n", e.Seq, e.PrevDigest)
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks that entries form an unbroken chain starting at seq 1.
func Verify(entries []Entry) error {
	prev := ""
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			return fmt.Errorf("audit entry %d: expected seq %d", e.Seq, i+1)
		}
		if e.PrevDigest != prev {
			return fmt.Errorf("audit entry %d: broken link", e.Seq)
		}
		if Digest(e) != e.Digest {
			return fmt.Errorf("audit entry %d: digest mismatch", e.Seq)
		}
		prev = e.Digest
	}
	return nil
}

// MemorySink keeps the chain in process memory.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) AppendEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemorySink) LastEntry(_ context.Context) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil, nil
	}
	e := m.entries[len(m.entries)-1]
	return &e, nil
}

// Entries returns a copy of the chain.
func (m *MemorySink) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}
