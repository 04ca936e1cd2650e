// Package dedup decides whether an inbound lead repeats an existing one for
// the same tenant.
package dedup

import (
	"context"

	"github.com/rotisserie/eris"
)

// Finder looks up an existing lead of a tenant by phone or email and
// returns its ID, or "" when none matches. store.Store satisfies it.
type Finder interface {
	FindDuplicate(ctx context.Context, tenantID string, phone, email *string) (string, error)
}

// Match is the result of a duplicate check.
type Match struct {
	Duplicate bool
	LeadID    string
}

// Detector checks normalized contact identifiers against stored leads.
type Detector struct {
	finder Finder
}

// NewDetector returns a Detector backed by finder.
func NewDetector(finder Finder) *Detector {
	return &Detector{finder: finder}
}

// Check reports whether a lead with the given phone or email already exists
// for tenantID. Only non-empty identifiers participate; with neither present
// the check is skipped and the lead is always new. Lookup errors propagate.
func (d *Detector) Check(ctx context.Context, tenantID string, phone, email *string) (Match, error) {
	phone, email = present(phone), present(email)
	if phone == nil && email == nil {
		return Match{}, nil
	}

	id, err := d.finder.FindDuplicate(ctx, tenantID, phone, email)
	if err != nil {
		return Match{}, eris.Wrapf(err, "dedup: check tenant %s", tenantID)
	}
	if id == "" {
		return Match{}, nil
	}
	return Match{Duplicate: true, LeadID: id}, nil
}

func present(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
