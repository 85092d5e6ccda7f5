package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/detector"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"go.uber.org/zap"
)

// maxEdgeAccounts bounds the breadth-first walk that collects payment edges.
const maxEdgeAccounts = 64

// networkContext loads the cross-entity history the network detector needs:
// other accounts' payments to the same counterparty, and the payments
// reachable from the transaction's destination account. Transactions in
// earlier are merged into both lookups. Lookup failures degrade the network
// checks instead of failing the assessment.
func (s *RiskService) networkContext(ctx context.Context, txn domain.Transaction, earlier []domain.Transaction) (detector.NetworkContext, []domain.DegradedNote) {
	var (
		nc    detector.NetworkContext
		notes []domain.DegradedNote
	)
	if !txn.HasTimestamp() {
		return nc, nil
	}
	degrade := func(what string, err error) {
		s.metrics.IncrExternalError("history")
		s.logger.Warn("network context lookup failed",
			zap.String("transaction_id", txn.ID),
			zap.String("lookup", what),
			zap.Error(err),
		)
		notes = append(notes, domain.DegradedNote{
			DetectorID: detector.IDNetwork,
			Reason:     fmt.Sprintf("%s unavailable", what),
		})
	}

	if vendor := txn.Vendor(); vendor != "" {
		since := txn.Timestamp.Add(-s.rules.Network.CrossEntityWindow)
		cp, err := s.ports.History.ByCounterparty(ctx, vendor, since, txn.Timestamp)
		if err != nil {
			degrade("counterparty history", err)
		} else {
			nc.Counterparty = mergeEarlier(cp, earlier, since, txn.Timestamp, func(t domain.Transaction) bool {
				return t.Vendor() == vendor
			})
		}
	}

	edges, err := s.paymentEdges(ctx, txn, earlier)
	if err != nil {
		degrade("payment graph", err)
	} else {
		nc.Edges = edges
	}
	return nc, notes
}

// paymentEdges walks accounts breadth-first from the destination of txn,
// up to the hop count a cycle may use.
func (s *RiskService) paymentEdges(ctx context.Context, txn domain.Transaction, earlier []domain.Transaction) ([]domain.Transaction, error) {
	origin, dest := txn.AccountID, txn.CounterpartyAccountID
	if txn.IsCredit() {
		origin, dest = dest, origin
	}
	if origin == "" || dest == "" || origin == dest {
		return nil, nil
	}

	since := txn.Timestamp.Add(-s.rules.Network.CycleWindow)
	visited := map[string]bool{dest: true}
	seen := map[string]bool{}
	frontier := []string{dest}
	var out []domain.Transaction

	for hop := 0; hop < s.rules.Network.MaxCycleLength-1 && len(frontier) > 0; hop++ {
		var next []string
		for _, account := range frontier {
			txns, err := s.ports.History.ByAccount(ctx, account, since, txn.Timestamp)
			if err != nil {
				return nil, err
			}
			txns = mergeEarlier(txns, earlier, since, txn.Timestamp, func(t domain.Transaction) bool {
				return t.AccountID == account
			})
			for _, t := range txns {
				if seen[t.ID] {
					continue
				}
				seen[t.ID] = true
				out = append(out, t)

				other := t.CounterpartyAccountID
				if other == account {
					other = t.AccountID
				}
				if other == "" || other == origin || visited[other] || len(visited) >= maxEdgeAccounts {
					continue
				}
				visited[other] = true
				next = append(next, other)
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return out, nil
}

// mergeEarlier adds the transactions of earlier that match and fall in
// [since, before) to stored, dropping ids already present, oldest first.
func mergeEarlier(stored, earlier []domain.Transaction, since, before time.Time, match func(domain.Transaction) bool) []domain.Transaction {
	if len(earlier) == 0 {
		return stored
	}
	ids := make(map[string]bool, len(stored))
	for _, t := range stored {
		ids[t.ID] = true
	}
	out := stored
	added := false
	for _, t := range earlier {
		if ids[t.ID] || !t.HasTimestamp() || t.Timestamp.Before(since) || !t.Timestamp.Before(before) || !match(t) {
			continue
		}
		ids[t.ID] = true
		out = append(out, t)
		added = true
	}
	if added {
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].Timestamp.Equal(out[j].Timestamp) {
				return out[i].Timestamp.Before(out[j].Timestamp)
			}
			return out[i].ID < out[j].ID
		})
	}
	return out
}
