package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE PROFILE COMMAND
// Entry point for a newly created RawProfile: normalizes its identifying
// fields, finds or creates the canonical identity and links the profile.
// The profile service calls this before the profile counts as onboarded.
// ══════════════════════════════════════════════════════════════════════════════

// ResolveProfileCommand contains the transient raw fields of a RawProfile.
// Raw phone and email never leave this command.
type ResolveProfileCommand struct {
	OrganizationID string
	ProfileID      string
	RawPhone       string
	RawEmail       string // optional
	DeclaredName   string // optional, only hashed for conflict detection

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ResolveProfileCommand) Validate() error {
	if err := c.profile().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.RawPhone) == "" {
		return shared.ErrInvalidPhoneFormat
	}
	return nil
}

func (c ResolveProfileCommand) profile() shared.ProfileRef {
	return shared.ProfileRef{
		OrganizationID: strings.TrimSpace(c.OrganizationID),
		ProfileID:      strings.TrimSpace(c.ProfileID),
	}
}

// ResolveProfileResult contains the outcome of a resolution.
type ResolveProfileResult struct {
	// IdentityID is the canonical identity the profile is linked to.
	IdentityID string

	// LinkID is the active IdentityLink of the profile.
	LinkID string

	// Confidence of the link.
	Confidence identity.Confidence

	// Created is true when this call created the identity.
	Created bool

	// AlreadyLinked is true when the profile was resolved before.
	AlreadyLinked bool

	// ConflictIDs lists conflicts opened by this call.
	ConflictIDs []string

	// Attempts is the number of transactions it took.
	Attempts int

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ResolveProfileHandlerConfig contains configuration for the handler.
type ResolveProfileHandlerConfig struct {
	// MaxAttempts bounds retry-as-lookup after a lost creation race.
	MaxAttempts int

	// OnRetry is called before each retry, e.g. to count races.
	OnRetry func(attempt int, err error)
}

// DefaultResolveProfileHandlerConfig returns default configuration.
func DefaultResolveProfileHandlerConfig() ResolveProfileHandlerConfig {
	return ResolveProfileHandlerConfig{MaxAttempts: 5}
}

// ResolveProfileHandler handles the ResolveProfileCommand.
type ResolveProfileHandler struct {
	deps       Deps
	normalizer *identity.Normalizer
	detector   *conflict.Detector
	retrier    *retry.Retrier
}

// NewResolveProfileHandler creates a new ResolveProfileHandler.
func NewResolveProfileHandler(
	deps Deps,
	normalizer *identity.Normalizer,
	detector *conflict.Detector,
	config ResolveProfileHandlerConfig,
) *ResolveProfileHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultResolveProfileHandlerConfig().MaxAttempts
	}
	deps = deps.withDefaults()

	onRetry := func(attempt int, err error, delay time.Duration) {
		deps.Logger.Debug("identity creation race, retrying as lookup",
			"attempt", attempt,
			"delay", delay,
		)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}
	}

	return &ResolveProfileHandler{
		deps:       deps,
		normalizer: normalizer,
		detector:   detector,
		retrier: retry.ResolveRetrier(config.MaxAttempts, func(err error) bool {
			return errors.Is(err, shared.ErrConcurrentCreationConflict)
		}, onRetry),
	}
}

// Handle executes the resolve command.
func (h *ResolveProfileHandler) Handle(ctx context.Context, cmd ResolveProfileCommand) (*ResolveProfileResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("resolve_profile: validation failed: %w", err)
	}

	// Normalization rejects bad input before any state is touched.
	hashes, err := h.normalizer.Hash(cmd.RawPhone, cmd.RawEmail, cmd.DeclaredName)
	if err != nil {
		return nil, fmt.Errorf("resolve_profile: %w", err)
	}
	ref := cmd.profile()

	var (
		result   *ResolveProfileResult
		attempts int
	)
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		r, err := h.attempt(ctx, ref, hashes)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve_profile: %w", err)
	}
	result.Attempts = attempts

	h.deps.publish(result.Events)

	h.deps.Logger.Info("profile resolved",
		"organization_id", ref.OrganizationID,
		"profile_id", ref.ProfileID,
		"identity_id", result.IdentityID,
		"created", result.Created,
		"already_linked", result.AlreadyLinked,
		"conflicts", len(result.ConflictIDs),
		"phone_hash", hashes.Phone.Short(),
		"correlation_id", cmd.CorrelationID,
	)
	return result, nil
}

// attempt runs one resolution transaction. A uniqueness violation surfaces as
// ErrConcurrentCreationConflict and rolls everything back.
func (h *ResolveProfileHandler) attempt(ctx context.Context, ref shared.ProfileRef, hashes identity.Hashes) (*ResolveProfileResult, error) {
	var result *ResolveProfileResult
	err := h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		r := &resolution{h: h, repos: repos, ref: ref, hashes: hashes, now: h.deps.Now()}
		res, err := r.run(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// resolution holds the state of one attempt.
type resolution struct {
	h      *ResolveProfileHandler
	repos  port.Repositories
	ref    shared.ProfileRef
	hashes identity.Hashes
	now    time.Time
	result ResolveProfileResult
}

func (r *resolution) run(ctx context.Context) (*ResolveProfileResult, error) {
	identities := r.repos.Identities()

	// Idempotency: a profile resolves once.
	link, err := r.repos.Links().GetActiveByProfile(ctx, r.ref)
	switch {
	case err == nil:
		// archived identities stay resolvable for their historical links
		target, err := identities.GetByID(ctx, link.IdentityID, identity.LockNone)
		if err != nil {
			return nil, err
		}
		if target, err = followMerged(ctx, identities, target, identity.LockNone); err != nil {
			return nil, err
		}
		r.result.IdentityID = target.ID
		r.result.LinkID = link.ID
		r.result.Confidence = link.Confidence
		r.result.AlreadyLinked = true
		return &r.result, nil
	case !errors.Is(err, shared.ErrLinkNotFound):
		return nil, err
	}

	// 1. Phone is authoritative.
	matched, err := r.lookup(ctx, identities.FindByPhoneHash, r.hashes.Phone)
	switch {
	case err == nil:
		return r.attachByPhone(ctx, matched)
	case !errors.Is(err, shared.ErrIdentityNotFound):
		return nil, err
	}

	// 2. Email.
	if r.hashes.Email != "" {
		matched, err = r.lookup(ctx, identities.FindByEmailHash, r.hashes.Email)
		switch {
		case err == nil:
			return r.attachByEmail(ctx, matched)
		case !errors.Is(err, shared.ErrIdentityNotFound):
			return nil, err
		}
	}

	// 3. Guaranteed miss.
	created, err := r.create(ctx, r.hashes.Phone, r.hashes.Email)
	if err != nil {
		return nil, err
	}
	if err := r.link(ctx, created, identity.ConfidenceExactPhone); err != nil {
		return nil, err
	}
	return &r.result, nil
}

type findFunc func(ctx context.Context, h shared.Hash, lock identity.LockMode) (*identity.CanonicalIdentity, error)

// lookup finds by hash under a shared row lock and follows merged pointers.
func (r *resolution) lookup(ctx context.Context, find findFunc, h shared.Hash) (*identity.CanonicalIdentity, error) {
	ci, err := find(ctx, h, identity.LockShare)
	if err != nil {
		return nil, err
	}
	if ci, err = followMerged(ctx, r.repos.Identities(), ci, identity.LockShare); err != nil {
		return nil, err
	}
	if !ci.IsActive() {
		return nil, shared.ErrIdentityNotActive
	}
	return ci, nil
}

func (r *resolution) attachByPhone(ctx context.Context, matched *identity.CanonicalIdentity) (*ResolveProfileResult, error) {
	var owner *identity.CanonicalIdentity
	if r.hashes.Email != "" {
		o, err := r.lookup(ctx, r.repos.Identities().FindByEmailHash, r.hashes.Email)
		switch {
		case err == nil:
			owner = o
		case errors.Is(err, shared.ErrIdentityNotFound), errors.Is(err, shared.ErrIdentityNotActive):
		default:
			return nil, err
		}
	}

	links, err := r.repos.Links().ListActiveByIdentity(ctx, matched.ID)
	if err != nil {
		return nil, err
	}
	contexts := make([]shared.Hash, 0, len(links))
	for _, l := range links {
		contexts = append(contexts, l.ContextHash)
	}

	outcome := r.h.detector.OnPhoneMatch(conflict.PhoneMatch{
		Matched:        matched,
		EmailHash:      r.hashes.Email,
		EmailOwner:     owner,
		ContextHash:    r.hashes.Context,
		LinkedContexts: contexts,
	})

	if outcome.BackfillEmail && matched.BackfillEmail(r.hashes.Email, r.now) {
		if err := r.repos.Identities().Update(ctx, matched); err != nil {
			return nil, err
		}
		e := r.h.deps.entry(audit.ActionIdentityBackfilled, matched.ID, r.now)
		e.Detail = map[string]any{"field": "email"}
		if err := r.repos.Audit().Append(ctx, e); err != nil {
			return nil, err
		}
	}

	if err := r.link(ctx, matched, identity.ConfidenceExactPhone); err != nil {
		return nil, err
	}
	for _, f := range outcome.Findings {
		if err := r.openConflict(ctx, f); err != nil {
			return nil, err
		}
	}
	return &r.result, nil
}

func (r *resolution) attachByEmail(ctx context.Context, matched *identity.CanonicalIdentity) (*ResolveProfileResult, error) {
	separate, finding := r.h.detector.OnEmailMatch(matched, r.hashes.Phone)
	if separate {
		// The email already belongs to matched, so the new identity keeps only the phone.
		created, err := r.create(ctx, r.hashes.Phone, "")
		if err != nil {
			return nil, err
		}
		if err := r.link(ctx, created, identity.ConfidenceExactPhone); err != nil {
			return nil, err
		}
		finding.IdentityA = created.ID
		if err := r.openConflict(ctx, *finding); err != nil {
			return nil, err
		}
		return &r.result, nil
	}

	if matched.BackfillPhone(r.hashes.Phone, r.now) {
		if err := r.repos.Identities().Update(ctx, matched); err != nil {
			return nil, err
		}
		e := r.h.deps.entry(audit.ActionIdentityBackfilled, matched.ID, r.now)
		e.Detail = map[string]any{"field": "phone"}
		if err := r.repos.Audit().Append(ctx, e); err != nil {
			return nil, err
		}
	}
	if err := r.link(ctx, matched, identity.ConfidenceExactEmail); err != nil {
		return nil, err
	}
	return &r.result, nil
}

func (r *resolution) create(ctx context.Context, phone, email shared.Hash) (*identity.CanonicalIdentity, error) {
	ci, err := identity.NewCanonicalIdentity(identity.NewIdentityParams{
		ID:        r.h.deps.NewID(),
		PhoneHash: phone,
		EmailHash: email,
		Now:       r.now,
	})
	if err != nil {
		return nil, err
	}
	if err := r.repos.Identities().Create(ctx, ci); err != nil {
		return nil, err
	}

	e := r.h.deps.entry(audit.ActionIdentityCreated, ci.ID, r.now)
	e.Profile = &r.ref
	e.Detail = map[string]any{"has_phone": ci.HasPhone(), "has_email": ci.HasEmail()}
	if err := r.repos.Audit().Append(ctx, e); err != nil {
		return nil, err
	}

	r.result.Created = true
	r.result.Events = append(r.result.Events, shared.NewIdentityCreatedEvent(ci.ID, r.ref))
	return ci, nil
}

func (r *resolution) link(ctx context.Context, ci *identity.CanonicalIdentity, conf identity.Confidence) error {
	l, err := identity.NewIdentityLink(r.h.deps.NewID(), r.ref, ci.ID, conf, r.hashes.Context, r.now)
	if err != nil {
		return err
	}
	if err := r.repos.Links().Create(ctx, l); err != nil {
		return err
	}

	e := r.h.deps.entry(audit.ActionIdentityLinked, ci.ID, r.now)
	e.Profile = &r.ref
	e.Detail = map[string]any{"link_id": l.ID, "confidence": string(conf)}
	if err := r.repos.Audit().Append(ctx, e); err != nil {
		return err
	}

	r.result.IdentityID = ci.ID
	r.result.LinkID = l.ID
	r.result.Confidence = conf
	r.result.Events = append(r.result.Events, shared.NewIdentityLinkedEvent(ci.ID, r.ref, string(conf)))
	return nil
}

func (r *resolution) openConflict(ctx context.Context, f conflict.Finding) error {
	existing, err := r.repos.Conflicts().FindOpen(ctx, f.Field, f.IdentityA, f.IdentityB)
	switch {
	case err == nil:
		// already queued for review
		r.result.ConflictIDs = append(r.result.ConflictIDs, existing.ID)
		return nil
	case !errors.Is(err, shared.ErrConflictNotFound):
		return err
	}

	c := conflict.NewConflictRecord(r.h.deps.NewID(), f.IdentityA, f.IdentityB, f.Field, r.ref, r.now)
	if err := r.repos.Conflicts().Create(ctx, c); err != nil {
		return err
	}

	e := r.h.deps.entry(audit.ActionConflictOpened, c.IdentityA, r.now)
	e.RelatedIdentityID = c.IdentityB
	e.ConflictID = c.ID
	e.Profile = &r.ref
	e.Detail = map[string]any{"field": string(c.Field)}
	if err := r.repos.Audit().Append(ctx, e); err != nil {
		return err
	}

	r.result.ConflictIDs = append(r.result.ConflictIDs, c.ID)
	r.result.Events = append(r.result.Events, shared.NewConflictOpenedEvent(c.ID, c.IdentityA, c.IdentityB, string(c.Field)))
	return nil
}
