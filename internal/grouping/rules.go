package grouping

import (
	"fmt"
	"regexp"
	"strings"

	"consular/internal/core"
)

// Rule maps raw service labels matching a pattern onto one canonical
// group name. Rules are static configuration evaluated in a fixed
// order; the first match wins and non-matching labels pass through
// unchanged.
type Rule struct {
	Name        string
	Canonical   string
	Description string
	pattern     *regexp.Regexp
}

// NewRule compiles a case-insensitive, unanchored pattern.
func NewRule(name, pattern, canonical, description string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: compile pattern: %w", name, err)
	}
	return Rule{Name: name, Canonical: canonical, Description: description, pattern: re}, nil
}

func mustRule(name, pattern, canonical, description string) Rule {
	r, err := NewRule(name, pattern, canonical, description)
	if err != nil {
		panic(err)
	}
	return r
}

// Matches reports whether the raw label falls under this rule.
func (r Rule) Matches(label string) bool {
	return r.pattern.MatchString(label)
}

// DefaultExclusion marks out-of-scope transaction types removed from
// every analytic view before grouping.
const DefaultExclusion = "COMPULSA"

// Ruleset is the ordered rule list plus the exclusion marker, shared
// verbatim by read-time grouping, analysis, preview and the permanent
// apply so the four paths can never disagree.
type Ruleset struct {
	rules     []Rule
	exclusion string
}

// DefaultRuleset returns the grouping configuration used for consular
// services: all RCM civil-registry entries collapse into one daily
// issuance group, and ordinary passports (including the ones charged
// at 50%) collapse into one passport group.
func DefaultRuleset() *Ruleset {
	return NewRuleset([]Rule{
		mustRule("RCM", `RCM\s*-`,
			"RCM - Expedición Diaria",
			"All RCM civil-registry entries, by state and type"),
		mustRule("PASAPORTES_ORDINARIOS", `PASAPORTES?\s+(ORDINARIOS?|.*50\s*%)`,
			"Pasaportes Ordinarios",
			"Ordinary passports, including the ones charged at 50%"),
	}, DefaultExclusion)
}

func NewRuleset(rules []Rule, exclusion string) *Ruleset {
	return &Ruleset{rules: rules, exclusion: exclusion}
}

// Rules returns the ordered rule list.
func (rs *Ruleset) Rules() []Rule {
	return rs.rules
}

// Excluded reports whether a label is removed from analytic views
// entirely. Exclusion is evaluated before grouping, so an excluded
// label is never canonicalized.
func (rs *Ruleset) Excluded(label string) bool {
	if rs.exclusion == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(label), strings.ToUpper(rs.exclusion))
}

// Canonicalize returns the canonical name of the first matching rule,
// or the label unchanged when no rule (or the exclusion) applies.
func (rs *Ruleset) Canonicalize(label string) string {
	if rs.Excluded(label) {
		return label
	}
	for _, r := range rs.rules {
		if r.Matches(label) {
			return r.Canonical
		}
	}
	return label
}

// Match returns the first rule matching the label, if any. Excluded
// labels match no rule.
func (rs *Ruleset) Match(label string) (Rule, bool) {
	if rs.Excluded(label) {
		return Rule{}, false
	}
	for _, r := range rs.rules {
		if r.Matches(label) {
			return r, true
		}
	}
	return Rule{}, false
}

// ApplyToRecords is the non-destructive read path: it drops excluded
// services and rewrites the remaining labels to their canonical group,
// leaving the input slice untouched.
func (rs *Ruleset) ApplyToRecords(records []core.Record) []core.Record {
	out := make([]core.Record, 0, len(records))
	for _, rec := range records {
		if rs.Excluded(rec.Service) {
			continue
		}
		rec.Service = rs.Canonicalize(rec.Service)
		out = append(out, rec)
	}
	return out
}
