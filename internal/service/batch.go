package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AnalyzeBatch assesses txns in chronological order (ties broken by id).
// Each transaction sees the stored history plus the strictly earlier
// transactions of the same entity in the batch, capped to the window size.
// Cross-entity checks also see every earlier batch transaction, whatever its
// entity. Entities are processed in parallel; within an entity processing is
// sequential. Nothing is appended to the history.
func (s *RiskService) AnalyzeBatch(ctx context.Context, txns []domain.Transaction) (*domain.BatchResult, error) {
	return s.batch(ctx, txns, false)
}

// IngestBatch is AnalyzeBatch followed by appending every transaction to the
// history, in chronological order, once all assessments are done.
func (s *RiskService) IngestBatch(ctx context.Context, txns []domain.Transaction) (*domain.BatchResult, error) {
	return s.batch(ctx, txns, true)
}

func (s *RiskService) batch(ctx context.Context, txns []domain.Transaction, ingest bool) (*domain.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "RiskService.AnalyzeBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(txns)))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("analyze_batch", time.Since(start))
	}()

	notes := make([][]domain.DegradedNote, len(txns))
	for i, t := range txns {
		n, err := checkTransaction(t)
		if err != nil {
			var v *domain.ErrValidation
			if errors.As(err, &v) {
				v.Field = fmt.Sprintf("transactions[%d].%s", i, v.Field)
			}
			return nil, err
		}
		notes[i] = n
	}

	order := make([]int, len(txns))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := txns[order[a]], txns[order[b]]
		if !ta.Timestamp.Equal(tb.Timestamp) {
			return ta.Timestamp.Before(tb.Timestamp)
		}
		return ta.ID < tb.ID
	})

	sorted := make([]domain.Transaction, len(order))
	for pos, idx := range order {
		sorted[pos] = txns[idx]
	}

	// positions in chronological order, grouped per entity
	groups := map[string][]int{}
	var entities []string
	for pos, idx := range order {
		e := txns[idx].Entity()
		if _, ok := groups[e]; !ok {
			entities = append(entities, e)
		}
		groups[e] = append(groups[e], pos)
	}

	results := make([]*domain.AnalysisResult, len(order))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for _, entity := range entities {
		positions := groups[entity]
		g.Go(func() error {
			var processed domain.HistoricalWindow
			for _, pos := range positions {
				txn := txns[order[pos]]
				window, err := s.batchWindow(gCtx, txn, processed)
				if err != nil {
					return err
				}
				res, err := s.assess(gCtx, txn, window, sorted[:pos], notes[order[pos]])
				if err != nil {
					return fmt.Errorf("transaction %s: %w", txn.ID, err)
				}
				results[pos] = res
				processed = append(processed, txn)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &domain.BatchResult{
		Assessments: make([]domain.RiskAssessment, 0, len(results)),
		Alerts:      []domain.AlertRecord{},
		Total:       len(results),
	}
	for _, r := range results {
		out.Assessments = append(out.Assessments, *r.Assessment)
		if r.Alert != nil {
			out.Alerts = append(out.Alerts, *r.Alert)
			out.Flagged++
		}
	}

	if ingest {
		for _, idx := range order {
			if err := s.ports.History.Append(ctx, txns[idx]); err != nil {
				s.metrics.IncrExternalError("history")
				return nil, fmt.Errorf("append transaction %s: %w", txns[idx].ID, err)
			}
		}
	}

	s.logger.Info("batch assessed",
		zap.Int("total", out.Total),
		zap.Int("flagged", out.Flagged),
		zap.Int("entities", len(entities)),
		zap.Bool("ingest", ingest),
	)
	return out, nil
}

// batchWindow merges the stored window with the batch transactions already
// processed for the entity, keeping only those strictly older than txn.
func (s *RiskService) batchWindow(ctx context.Context, txn domain.Transaction, processed domain.HistoricalWindow) (domain.HistoricalWindow, error) {
	cutoff := s.cutoff(txn)
	stored, err := s.ports.History.Window(ctx, txn.Entity(), cutoff, s.opts.WindowSize)
	if err != nil {
		s.metrics.IncrExternalError("history")
		return nil, fmt.Errorf("load window: %w", err)
	}

	earlier := processed
	if txn.HasTimestamp() {
		earlier = processed.Before(txn.Timestamp)
	}
	if len(earlier) == 0 {
		return stored, nil
	}

	inBatch := make(map[string]bool, len(earlier))
	for _, t := range earlier {
		inBatch[t.ID] = true
	}
	merged := make(domain.HistoricalWindow, 0, len(stored)+len(earlier))
	for _, t := range stored {
		if !inBatch[t.ID] {
			merged = append(merged, t)
		}
	}
	merged = append(merged, earlier...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged.Last(s.opts.WindowSize), nil
}
