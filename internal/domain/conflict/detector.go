package conflict

import (
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Finding is one disagreement the resolver must record as an open conflict.
// IdentityA is filled by the caller when it is not yet known.
type Finding struct {
	Field     Field
	IdentityA string
	IdentityB string
}

// PhoneMatch describes a profile that matched an identity by phone hash.
type PhoneMatch struct {
	Matched        *identity.CanonicalIdentity
	EmailHash      shared.Hash
	EmailOwner     *identity.CanonicalIdentity // current owner of EmailHash, nil if unclaimed
	ContextHash    shared.Hash
	LinkedContexts []shared.Hash // context hashes of the identity's active links
}

// PhoneMatchOutcome tells the resolver what to write.
type PhoneMatchOutcome struct {
	BackfillEmail bool
	Findings      []Finding
}

// Detector classifies secondary-signal disagreements. It never decides a
// merge; it only reports what needs review.
type Detector struct {
	detectContext bool
}

// NewDetector creates a Detector. detectContext enables declared-context
// conflicts for profiles that share a phone.
func NewDetector(detectContext bool) *Detector {
	return &Detector{detectContext: detectContext}
}

// OnPhoneMatch classifies a phone-priority match. The link to the matched
// identity is made regardless of the outcome.
func (d *Detector) OnPhoneMatch(m PhoneMatch) PhoneMatchOutcome {
	var out PhoneMatchOutcome
	matched := m.Matched

	if m.EmailHash != "" && !identity.Equal(matched.EmailHash, m.EmailHash) {
		switch {
		case m.EmailOwner != nil && m.EmailOwner.ID == matched.ID:
			// email belongs to an identity merged into this one
		case m.EmailOwner != nil:
			out.Findings = append(out.Findings, Finding{Field: FieldEmail, IdentityA: matched.ID, IdentityB: m.EmailOwner.ID})
		case matched.HasEmail():
			out.Findings = append(out.Findings, Finding{Field: FieldEmail, IdentityA: matched.ID})
		default:
			out.BackfillEmail = true
		}
	}

	if d.detectContext && m.ContextHash != "" && contextDiffers(m.ContextHash, m.LinkedContexts) {
		out.Findings = append(out.Findings, Finding{Field: FieldDeclaredContext, IdentityA: matched.ID})
	}
	return out
}

// OnEmailMatch reports whether an email-matched identity carries a different
// phone. Phone is authoritative, so the caller gets its own identity and the
// pair is queued for review.
func (d *Detector) OnEmailMatch(matched *identity.CanonicalIdentity, phoneHash shared.Hash) (separate bool, finding *Finding) {
	if phoneHash == "" || !matched.HasPhone() || identity.Equal(matched.PhoneHash, phoneHash) {
		return false, nil
	}
	return true, &Finding{Field: FieldEmail, IdentityB: matched.ID}
}

func contextDiffers(h shared.Hash, linked []shared.Hash) bool {
	seen := false
	for _, l := range linked {
		if l == "" {
			continue
		}
		seen = true
		if identity.Equal(l, h) {
			return false
		}
	}
	return seen
}
