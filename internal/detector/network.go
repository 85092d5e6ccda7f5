package detector

import (
	"sort"
	"unicode/utf8"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

const (
	scoreCrossEntity      = 92
	scoreCircularPayment  = 90
	scoreVendorSimilarity = 72
)

// Network looks past the entity boundary: structuring spread over several
// accounts, money flowing back to its origin, and look-alike vendor names.
type Network struct {
	rules  config.NetworkRules
	lowest decimal.Decimal
}

func NewNetwork(rules config.NetworkRules, structuring config.StructuringRules) *Network {
	return &Network{rules: rules, lowest: dec(structuring.LowestThreshold())}
}

func (d *Network) ID() string { return IDNetwork }

func (d *Network) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	if in.Txn.HasTimestamp() {
		d.crossEntity(&f, in)
		d.circular(&f, in)
	} else {
		f.degrade("missing timestamp; network checks skipped")
	}
	d.similarVendor(&f, in)
	return f
}

func (d *Network) crossEntity(f *Finding, in Input) {
	txn := in.Txn
	amount := txn.AbsAmount()
	if txn.Counterparty == "" || !amount.IsPositive() || !amount.LessThan(d.lowest) {
		return
	}
	from := txn.Timestamp.Add(-d.rules.CrossEntityWindow)
	accounts := map[string]struct{}{txn.AccountID: {}}
	total := amount
	var ids []string
	for _, t := range in.Network.Counterparty {
		if t.ID == txn.ID || !t.HasTimestamp() || t.Timestamp.Before(from) || t.Timestamp.After(txn.Timestamp) {
			continue
		}
		a := t.AbsAmount()
		if !a.IsPositive() || !a.LessThan(d.lowest) {
			continue
		}
		accounts[t.AccountID] = struct{}{}
		total = total.Add(a)
		ids = append(ids, t.ID)
	}
	if len(accounts) < d.rules.CrossEntityMinAccounts || total.LessThan(d.lowest) {
		return
	}
	list := make([]string, 0, len(accounts))
	for a := range accounts {
		list = append(list, a)
	}
	sort.Strings(list)
	f.add(domain.AnomalyCrossEntityStructuring, domain.SeverityCritical, scoreCrossEntity,
		domain.NetworkEvidence{Counterparty: txn.Counterparty, Accounts: list, Total: total, RelatedTxnIDs: ids},
		"%d accounts paid %q a combined %s in sub-threshold amounts within %s",
		len(list), txn.Counterparty, money(total), d.rules.CrossEntityWindow)
}

// flow returns the paying and receiving account of t.
func flow(t domain.Transaction) (string, string) {
	if t.IsCredit() {
		return t.CounterpartyAccountID, t.AccountID
	}
	return t.AccountID, t.CounterpartyAccountID
}

type edge struct {
	to string
	id string
}

func (d *Network) circular(f *Finding, in Input) {
	txn := in.Txn
	origin, dest := flow(txn)
	if origin == "" || dest == "" || origin == dest {
		return
	}
	from := txn.Timestamp.Add(-d.rules.CycleWindow)
	minAmount := txn.AbsAmount().Mul(dec(d.rules.CycleMinAmountRatio))

	graph := map[string][]edge{}
	seen := map[string]struct{}{}
	add := func(t domain.Transaction) {
		if _, dup := seen[t.ID]; dup || t.ID == txn.ID {
			return
		}
		seen[t.ID] = struct{}{}
		if !t.HasTimestamp() || t.Timestamp.Before(from) || t.Timestamp.After(txn.Timestamp) {
			return
		}
		if t.AbsAmount().LessThan(minAmount) {
			return
		}
		a, b := flow(t)
		if a == "" || b == "" || a == b {
			return
		}
		graph[a] = append(graph[a], edge{to: b, id: t.ID})
	}
	for _, t := range in.Network.Edges {
		add(t)
	}
	for _, t := range in.Window {
		add(t)
	}
	for k := range graph {
		sort.Slice(graph[k], func(i, j int) bool {
			a, b := graph[k][i], graph[k][j]
			if a.to != b.to {
				return a.to < b.to
			}
			return a.id < b.id
		})
	}

	path, ids := findPath(graph, dest, origin, d.rules.MaxCycleLength-1)
	if path == nil {
		return
	}
	cycle := append([]string{origin}, path...)
	f.add(domain.AnomalyCircularPayment, domain.SeverityCritical, scoreCircularPayment,
		domain.NetworkEvidence{Cycle: cycle, Total: txn.AbsAmount(), RelatedTxnIDs: ids},
		"Funds return to %s through a %d-step payment cycle", origin, len(cycle)-1)
}

// findPath runs a depth-first search from start to target using at most
// maxEdges edges and returns the visited nodes and the edge IDs used.
func findPath(graph map[string][]edge, start, target string, maxEdges int) ([]string, []string) {
	onPath := map[string]bool{start: true}
	nodes := []string{start}
	var ids []string

	var walk func(node string, depth int) bool
	walk = func(node string, depth int) bool {
		if depth == maxEdges {
			return false
		}
		for _, e := range graph[node] {
			if e.to == target {
				nodes = append(nodes, e.to)
				ids = append(ids, e.id)
				return true
			}
			if onPath[e.to] {
				continue
			}
			onPath[e.to] = true
			nodes = append(nodes, e.to)
			ids = append(ids, e.id)
			if walk(e.to, depth+1) {
				return true
			}
			nodes = nodes[:len(nodes)-1]
			ids = ids[:len(ids)-1]
			onPath[e.to] = false
		}
		return false
	}
	if !walk(start, 0) {
		return nil, nil
	}
	return nodes, ids
}

func (d *Network) similarVendor(f *Finding, in Input) {
	vendor := in.Txn.Vendor()
	p := in.Profile
	if vendor == "" || p == nil || p.VendorFrequency[vendor] > 0 {
		return
	}
	known := make([]string, 0, len(p.VendorFrequency))
	for v := range p.VendorFrequency {
		if p.IsFrequentVendor(v) {
			known = append(known, v)
		}
	}
	sort.Strings(known)

	best, bestScore := "", 0.0
	for _, v := range known {
		if s := Similarity(vendor, v); s > bestScore {
			best, bestScore = v, s
		}
	}
	if bestScore < d.rules.VendorSimilarity {
		return
	}
	f.add(domain.AnomalyVendorNameSimilarity, domain.SeverityMedium, scoreVendorSimilarity,
		domain.NetworkEvidence{Counterparty: vendor, SimilarTo: best, Similarity: bestScore},
		"New vendor %q closely resembles established vendor %q (%.0f%% similar)", vendor, best, bestScore*100)
}

// Similarity is 1 - edit distance / length of the longer string.
func Similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}
