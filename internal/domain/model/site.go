package model

import "time"

// Site is a scrape target in the shared registry. Coordination state
// (lock fields) and outcome history live on the record itself so every
// worker stays stateless between calls.
type Site struct {
	ID      string
	Name    string
	URL     string
	Pattern string
	Enabled bool

	// Lease fields. A lease is valid while LockedBy is non-empty and
	// LockExpiresAt is in the future.
	LockedBy      string
	LockExpiresAt time.Time

	// Outcome fields. FailCount is never reset, it is the historical
	// failure counter across retries.
	Completed     bool
	Failed        bool
	FailCount     int
	LastError     string
	LastFailureAt time.Time
	LastRunAt     time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewSite(id, name, url, pattern string) *Site {
	now := time.Now()
	return &Site{
		ID:        id,
		Name:      name,
		URL:       url,
		Pattern:   pattern,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasValidLease reports whether the site is exclusively held at `now`.
func (s *Site) HasValidLease(now time.Time) bool {
	return s.LockedBy != "" && s.LockExpiresAt.After(now)
}

// Leasable reports whether the site is eligible for a new lease at `now`.
func (s *Site) Leasable(now time.Time) bool {
	if !s.Enabled || s.Completed || s.Failed {
		return false
	}
	return !s.HasValidLease(now)
}
