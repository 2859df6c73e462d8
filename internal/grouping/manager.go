package grouping

import (
	"context"
	"log/slog"
	"sort"

	"consular/internal/core"
)

// Store is the slice of the repository the manager needs.
type Store interface {
	AllRecords(ctx context.Context) ([]core.Record, error)
	RenameServices(ctx context.Context, from []string, to string) (int64, error)
}

// Manager runs the grouping rules against stored data. Analyze and
// Preview never mutate; Apply rewrites labels permanently only when
// the caller passes confirmed.
type Manager struct {
	store       Store
	rules       *Ruleset
	sampleLimit int
}

func NewManager(store Store, rules *Ruleset) *Manager {
	if rules == nil {
		rules = DefaultRuleset()
	}
	return &Manager{store: store, rules: rules, sampleLimit: 10}
}

// Ruleset exposes the manager's rules for read-time grouping.
func (m *Manager) Ruleset() *Ruleset {
	return m.rules
}

// GroupAnalysis describes what one rule currently covers in the store.
type GroupAnalysis struct {
	RuleName     string
	Canonical    string
	Description  string
	Labels       []string
	LabelCount   int
	Records      int64
	Transactions int64
	Revenue      float64
	Canceled     int64
	First        core.Date
	Last         core.Date
}

// ruleBucket accumulates the records claimed by one rule.
type ruleBucket struct {
	labels       map[string]int64
	records      int64
	transactions int64
	revenue      float64
	canceled     int64
	first, last  core.Date
}

func (m *Manager) buckets(ctx context.Context) ([]ruleBucket, error) {
	records, err := m.store.AllRecords(ctx)
	if err != nil {
		return nil, err
	}
	buckets := make([]ruleBucket, len(m.rules.rules))
	for i := range buckets {
		buckets[i].labels = make(map[string]int64)
	}
	for _, rec := range records {
		if m.rules.Excluded(rec.Service) {
			continue
		}
		for i, r := range m.rules.rules {
			if !r.Matches(rec.Service) {
				continue
			}
			b := &buckets[i]
			b.labels[rec.Service]++
			b.records++
			b.transactions += rec.Transactions
			b.revenue += rec.Revenue
			b.canceled += rec.Canceled
			if b.first.IsZero() || rec.IssuanceDate.Before(b.first.Time) {
				b.first = rec.IssuanceDate
			}
			if b.last.IsZero() || rec.IssuanceDate.After(b.last.Time) {
				b.last = rec.IssuanceDate
			}
			break
		}
	}
	return buckets, nil
}

// Analyze reports, per rule, the distinct raw labels it would collapse
// and their combined volumes. Label samples are bounded; LabelCount
// carries the true distinct count.
func (m *Manager) Analyze(ctx context.Context) ([]GroupAnalysis, error) {
	buckets, err := m.buckets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GroupAnalysis, 0, len(buckets))
	for i, r := range m.rules.rules {
		b := buckets[i]
		labels := sortedKeys(b.labels)
		sample := labels
		if len(sample) > m.sampleLimit {
			sample = sample[:m.sampleLimit]
		}
		out = append(out, GroupAnalysis{
			RuleName:     r.Name,
			Canonical:    r.Canonical,
			Description:  r.Description,
			Labels:       sample,
			LabelCount:   len(labels),
			Records:      b.records,
			Transactions: b.transactions,
			Revenue:      b.revenue,
			Canceled:     b.canceled,
			First:        b.first,
			Last:         b.last,
		})
	}
	return out, nil
}

// RuleChange lists the raw labels one rule would rewrite.
type RuleChange struct {
	RuleName  string
	Canonical string
	Labels    []string
	Records   int64
}

// ChangeSet is the full preview of a permanent apply.
type ChangeSet struct {
	Changes      []RuleChange
	TotalRecords int64
}

// Preview computes the rewrites a permanent apply would perform,
// without touching the store. Labels already equal to their canonical
// name are left out.
func (m *Manager) Preview(ctx context.Context) (*ChangeSet, error) {
	buckets, err := m.buckets(ctx)
	if err != nil {
		return nil, err
	}
	cs := &ChangeSet{}
	for i, r := range m.rules.rules {
		change := RuleChange{RuleName: r.Name, Canonical: r.Canonical}
		for _, label := range sortedKeys(buckets[i].labels) {
			if label == r.Canonical {
				continue
			}
			change.Labels = append(change.Labels, label)
			change.Records += buckets[i].labels[label]
		}
		if len(change.Labels) == 0 {
			continue
		}
		cs.Changes = append(cs.Changes, change)
		cs.TotalRecords += change.Records
	}
	return cs, nil
}

// RuleApply is the committed outcome of one rule's rewrite.
type RuleApply struct {
	RuleName  string
	Canonical string
	Updated   int64
	Err       error
}

// ApplyResult reports a permanent apply. When the call was not
// confirmed, Applied is false and Pending holds the preview instead.
type ApplyResult struct {
	Applied      bool
	Pending      *ChangeSet
	Rules        []RuleApply
	TotalUpdated int64
}

// Apply permanently rewrites raw labels to their canonical group
// names. The rewrite is irreversible, so an unconfirmed call returns
// the pending change set and performs nothing. Each rule commits as
// its own unit: a failing rule is reported in its RuleApply and the
// remaining rules still run, so partial completion is always visible
// to the caller.
func (m *Manager) Apply(ctx context.Context, confirmed bool) (*ApplyResult, error) {
	pending, err := m.Preview(ctx)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return &ApplyResult{Applied: false, Pending: pending}, nil
	}
	res := &ApplyResult{Applied: true}
	for _, change := range pending.Changes {
		ra := RuleApply{RuleName: change.RuleName, Canonical: change.Canonical}
		ra.Updated, ra.Err = m.store.RenameServices(ctx, change.Labels, change.Canonical)
		if ra.Err != nil {
			slog.Error("grouping rule rewrite failed",
				"rule", change.RuleName, "error", ra.Err)
		} else {
			res.TotalUpdated += ra.Updated
			slog.Info("grouping rule applied",
				"rule", change.RuleName, "canonical", change.Canonical, "updated", ra.Updated)
		}
		res.Rules = append(res.Rules, ra)
	}
	return res, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
