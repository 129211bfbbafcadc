package models

import (
	"fmt"
	"strings"
	"time"
)

// Cookie is a single browser cookie in the common cookie-export JSON shape.
// Cookies are immutable once imported.
type Cookie struct {
	Name     string  `json:"name" validate:"required"`
	Value    string  `json:"value" validate:"required"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // Unix seconds; <= 0 means a session cookie
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"` // "Strict", "Lax", "None" or empty
}

// ExpiresAt returns the expiry as a time, or false for session cookies.
func (c Cookie) ExpiresAt() (time.Time, bool) {
	if c.Expires <= 0 {
		return time.Time{}, false
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), true
}

// IsExpired reports whether the cookie has expired at now.
// The boundary is exclusive: a cookie expiring exactly at now is expired.
func (c Cookie) IsExpired(now time.Time) bool {
	expiresAt, ok := c.ExpiresAt()
	if !ok {
		return false
	}
	return !expiresAt.After(now)
}

// MatchesDomain reports whether the cookie domain belongs to any of the given domains.
func (c Cookie) MatchesDomain(domains []string) bool {
	domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d != "" && strings.Contains(domain, d) {
			return true
		}
	}
	return false
}

// CookieSet is a Session Credential: the domain-relevant cookies used to attach the
// automated browser to an authenticated identity. Validity is never cached.
type CookieSet struct {
	Cookies    []Cookie  `json:"cookies"`
	ImportedAt time.Time `json:"imported_at"`
}

// Len returns the number of cookies in the set
func (s *CookieSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Cookies)
}

// ExpiresAt returns the earliest expiry among cookies still valid at now.
func (s *CookieSet) ExpiresAt(now time.Time) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	var earliest time.Time
	found := false
	for _, c := range s.Cookies {
		expiresAt, ok := c.ExpiresAt()
		if !ok || !expiresAt.After(now) {
			continue
		}
		if !found || expiresAt.Before(earliest) {
			earliest = expiresAt
			found = true
		}
	}
	return earliest, found
}

// IsValid reports whether at least one cookie in the set is unexpired at now.
func (s *CookieSet) IsValid(now time.Time) bool {
	_, ok := s.ExpiresAt(now)
	return ok
}

// TimeUntilExpiry returns the duration until the earliest expiry, never negative.
func (s *CookieSet) TimeUntilExpiry(now time.Time) (time.Duration, bool) {
	expiresAt, ok := s.ExpiresAt(now)
	if !ok {
		return 0, false
	}
	if d := expiresAt.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// ExpiryDisplay formats the remaining lifetime for status output.
func (s *CookieSet) ExpiryDisplay(now time.Time) string {
	if s.Len() == 0 {
		return "Unknown"
	}
	remaining, ok := s.TimeUntilExpiry(now)
	if !ok || remaining <= 0 {
		if hasExpiring(s.Cookies) {
			return "Expired"
		}
		return "Unknown"
	}

	hours := int(remaining / time.Hour)
	minutes := int((remaining % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func hasExpiring(cookies []Cookie) bool {
	for _, c := range cookies {
		if c.Expires > 0 {
			return true
		}
	}
	return false
}

// CookieStatus is the read-only credential summary returned by the API
type CookieStatus struct {
	Count      int        `json:"count"`
	Valid      bool       `json:"valid"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ExpiresIn  string     `json:"expires_in"`
	ImportedAt *time.Time `json:"imported_at,omitempty"`
}
