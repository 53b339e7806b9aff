package shared

import (
	"math"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUID reports whether s looks like a UUID.
func IsUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// Profile Reference
// ═══════════════════════════════════════════════════════════════════════════

// ProfileRef identifies an organization-scoped RawProfile.
// The profile itself is owned by the organization's profile service.
type ProfileRef struct {
	OrganizationID string `json:"organization_id"`
	ProfileID      string `json:"profile_id"`
}

// Validate checks both halves of the reference are present.
func (r ProfileRef) Validate() error {
	if strings.TrimSpace(r.OrganizationID) == "" {
		return NewDomainError("shared", "ProfileRef", ErrEmptyValue, "organization id is required")
	}
	if strings.TrimSpace(r.ProfileID) == "" {
		return NewDomainError("shared", "ProfileRef", ErrEmptyValue, "profile id is required")
	}
	return nil
}

// String returns "org/profile".
func (r ProfileRef) String() string {
	return r.OrganizationID + "/" + r.ProfileID
}

// ═══════════════════════════════════════════════════════════════════════════
// Hash Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Hash is a hex-encoded 256-bit keyed digest of a normalized field.
type Hash string

var hashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsValid checks the hash shape.
func (h Hash) IsValid() bool {
	return hashRegex.MatchString(string(h))
}

// String returns the string representation.
func (h Hash) String() string {
	return string(h)
}

// Short returns a prefix safe for logs.
func (h Hash) Short() string {
	if len(h) < 12 {
		return string(h)
	}
	return string(h[:12])
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Score is a value in [0, 1].
type Score float64

// ClampScore bounds v to [0, 1]; NaN becomes 0.
func ClampScore(v float64) Score {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return Score(v)
	}
}

// Float64 returns the underlying value.
func (s Score) Float64() float64 {
	return float64(s)
}

// Round returns the score rounded to the given number of decimals.
func (s Score) Round(decimals int) Score {
	p := math.Pow(10, float64(decimals))
	return Score(math.Round(float64(s)*p) / p)
}
