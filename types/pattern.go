package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SitePattern is a learned interaction recipe for one (domain, page type)
// pair. Patterns are created on the first successful workflow and refined by
// a rolling success rate after every subsequent use.
type SitePattern struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	PageType  string `json:"page_type"`
	// Elements maps a semantic element name ("search_box", "submit") to the
	// text signature that located it last time.
	Elements map[string]string `json:"elements,omitempty"`
	// FormFields maps a semantic field type ("email", "password") to the
	// element index it typically occupies on this page type.
	FormFields map[string]int `json:"form_fields,omitempty"`
	// Flows holds named reusable step lists distilled from past workflows.
	Flows map[string][]WorkflowStep `json:"flows,omitempty"`

	SuccessRate float64   `json:"success_rate"`
	TotalUses   int       `json:"total_uses"`
	LastUsedAt  time.Time `json:"last_used_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeDomain strips the scheme and a leading "www." so that pattern
// lookups are stable across URL spellings.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return d
}

// PatternID derives the deterministic pattern id for a (domain, page type)
// pair. The id is a content hash, so the same pair always maps to the same
// storage key.
func PatternID(domain, pageType string) string {
	sum := sha256.Sum256([]byte(NormalizeDomain(domain) + ":" + pageType))
	return hex.EncodeToString(sum[:])[:16]
}

// RecordUse folds one more outcome into the rolling success rate. The
// per-use weight is 1/total_uses capped at 0.1, so new evidence always
// influences the average but a single bad run never erases history
// (1.0 with one prior use drops to 0.9, not 0.5).
func (p *SitePattern) RecordUse(success bool, now time.Time) {
	p.TotalUses++
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if p.TotalUses == 1 {
		p.SuccessRate = outcome
	} else {
		weight := 1.0 / float64(p.TotalUses)
		if weight > 0.1 {
			weight = 0.1
		}
		p.SuccessRate = (1-weight)*p.SuccessRate + weight*outcome
	}
	p.LastUsedAt = now
	p.UpdatedAt = now
}
