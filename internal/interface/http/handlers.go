package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/application/query"
)

// HeaderCorrelationID carries the caller's correlation id into resolver logs.
const HeaderCorrelationID = "X-Correlation-ID"

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c echo.Context) error {
	status := s.deps.HealthChecker.Check(c.Request().Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func (s *Server) handleReady(c echo.Context) error {
	status := s.deps.HealthChecker.Check(c.Request().Context())
	if !status.Ready {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"ready": false, "message": status.Message})
	}
	return c.JSON(http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleLive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// ResolveRequest registers one organization profile.
type ResolveRequest struct {
	OrganizationID string `json:"organization_id" validate:"required,max=128"`
	ProfileID      string `json:"profile_id" validate:"required,max=128"`
	Phone          string `json:"phone" validate:"required"`
	Email          string `json:"email,omitempty"`
	DeclaredName   string `json:"declared_name,omitempty" validate:"max=256"`
}

// ResolveResponse is the resolver outcome.
type ResolveResponse struct {
	CanonicalIdentityID string   `json:"canonical_identity_id"`
	LinkID              string   `json:"link_id"`
	Created             bool     `json:"created"`
	AlreadyLinked       bool     `json:"already_linked"`
	Confidence          string   `json:"confidence"`
	ConflictIDs         []string `json:"conflict_ids"`
}

func (s *Server) handleResolve(c echo.Context) error {
	var req ResolveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	correlationID := c.Request().Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	res, err := s.deps.Handlers.Resolve.Handle(c.Request().Context(), command.ResolveProfileCommand{
		OrganizationID: req.OrganizationID,
		ProfileID:      req.ProfileID,
		RawPhone:       req.Phone,
		RawEmail:       req.Email,
		DeclaredName:   req.DeclaredName,
		CorrelationID:  correlationID,
	})
	if err != nil {
		return err
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	conflicts := res.ConflictIDs
	if conflicts == nil {
		conflicts = []string{}
	}
	return c.JSON(status, ResolveResponse{
		CanonicalIdentityID: res.IdentityID,
		LinkID:              res.LinkID,
		Created:             res.Created,
		AlreadyLinked:       res.AlreadyLinked,
		Confidence:          string(res.Confidence),
		ConflictIDs:         conflicts,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY READS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetIdentity(c echo.Context) error {
	dto, err := s.deps.Handlers.GetIdentity.Handle(c.Request().Context(), query.GetIdentityQuery{
		IdentityID: c.Param("id"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto)
}

func (s *Server) handleGetReputation(c echo.Context) error {
	q := query.GetReputationQuery{IdentityID: c.Param("id")}
	if raw := c.QueryParam("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "at must be an RFC3339 timestamp")
		}
		q.At = &at
	}

	dto, err := s.deps.Handlers.GetReputation.Handle(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto)
}

func (s *Server) handleReputationHistory(c echo.Context) error {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	items, err := s.deps.Handlers.ReputationHistory.Handle(c.Request().Context(), query.GetReputationHistoryQuery{
		IdentityID: c.Param("id"),
		Limit:      limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleListAudit(c echo.Context) error {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	trail, err := s.deps.Handlers.ListAudit.Handle(c.Request().Context(), query.ListAuditQuery{
		IdentityID: c.Param("id"),
		Limit:      limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, trail)
}

// ArchiveRequest retires an identity.
type ArchiveRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleArchive(c echo.Context) error {
	var req ArchiveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Handlers.Archive.Handle(c.Request().Context(), command.ArchiveIdentityCommand{
		IdentityID: c.Param("id"),
		Actor:      req.Actor,
		Reason:     req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"archived_ids": res.ArchivedIDs})
}

// ══════════════════════════════════════════════════════════════════════════════
// MERGE / UNMERGE
// ══════════════════════════════════════════════════════════════════════════════

// MergeRequest merges two identities. The older one survives.
type MergeRequest struct {
	IdentityA   string   `json:"identity_a" validate:"required,uuid"`
	IdentityB   string   `json:"identity_b" validate:"required,uuid"`
	Actor       string   `json:"actor" validate:"required"`
	Reason      string   `json:"reason,omitempty"`
	ConflictIDs []string `json:"conflict_ids,omitempty" validate:"dive,uuid"`
}

// MergeResponse describes a completed merge.
type MergeResponse struct {
	CanonicalIdentityID string   `json:"canonical_identity_id"`
	MergedIdentityID    string   `json:"merged_identity_id"`
	MergeAuditID        string   `json:"merge_audit_id"`
	MovedLinks          int      `json:"moved_links"`
	ResolvedConflictIDs []string `json:"resolved_conflict_ids"`
}

func newMergeResponse(res *command.MergeIdentitiesResult) MergeResponse {
	resolved := res.ResolvedConflictIDs
	if resolved == nil {
		resolved = []string{}
	}
	return MergeResponse{
		CanonicalIdentityID: res.SurvivorID,
		MergedIdentityID:    res.LoserID,
		MergeAuditID:        res.MergeAuditID,
		MovedLinks:          res.MovedLinks,
		ResolvedConflictIDs: resolved,
	}
}

func (s *Server) handleMerge(c echo.Context) error {
	var req MergeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Handlers.Merge.Handle(c.Request().Context(), command.MergeIdentitiesCommand{
		IdentityA:   req.IdentityA,
		IdentityB:   req.IdentityB,
		Actor:       req.Actor,
		Reason:      req.Reason,
		ConflictIDs: req.ConflictIDs,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newMergeResponse(res))
}

// UnmergeRequest reverts one merge.
type UnmergeRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// UnmergeResponse names both identities after the revert.
type UnmergeResponse struct {
	RestoredIdentityIDA string `json:"restored_identity_id_a"`
	RestoredIdentityIDB string `json:"restored_identity_id_b"`
	UnmergeAuditID      string `json:"unmerge_audit_id"`
	MovedLinks          int    `json:"moved_links"`
}

func (s *Server) handleUnmerge(c echo.Context) error {
	var req UnmergeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Handlers.Unmerge.Handle(c.Request().Context(), command.UnmergeIdentitiesCommand{
		MergeAuditID: c.Param("id"),
		Actor:        req.Actor,
		Reason:       req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UnmergeResponse{
		RestoredIdentityIDA: res.SurvivorID,
		RestoredIdentityIDB: res.RestoredID,
		UnmergeAuditID:      res.UnmergeAuditID,
		MovedLinks:          res.MovedLinks,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListConflicts(c echo.Context) error {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return err
	}
	items, err := s.deps.Handlers.ListConflicts.Handle(c.Request().Context(), query.ListConflictsQuery{
		Status:     c.QueryParam("status"),
		IdentityID: c.QueryParam("identity_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []query.ConflictDTO{}
	}
	return c.JSON(http.StatusOK, items)
}

// ResolveConflictRequest closes a conflict after review.
type ResolveConflictRequest struct {
	Decision string `json:"decision" validate:"required,oneof=merge separate"`
	Actor    string `json:"actor" validate:"required"`
	Reason   string `json:"reason,omitempty"`
}

// ResolveConflictResponse is the closed conflict and the merge it caused.
type ResolveConflictResponse struct {
	Conflict query.ConflictDTO `json:"conflict"`
	Merge    *MergeResponse    `json:"merge,omitempty"`
}

func (s *Server) handleResolveConflict(c echo.Context) error {
	var req ResolveConflictRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Handlers.ResolveConflict.Handle(c.Request().Context(), command.ResolveConflictCommand{
		ConflictID: c.Param("id"),
		Decision:   command.Decision(req.Decision),
		Actor:      req.Actor,
		Reason:     req.Reason,
	})
	if err != nil {
		return err
	}

	out := ResolveConflictResponse{Conflict: query.NewConflictDTO(res.Conflict)}
	if res.Merge != nil {
		m := newMergeResponse(res.Merge)
		out.Merge = &m
	}
	return c.JSON(http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPUTATION
// ══════════════════════════════════════════════════════════════════════════════

// EventRequest is one behavioral event of a profile.
type EventRequest struct {
	EventID        string    `json:"event_id" validate:"required,max=128"`
	OrganizationID string    `json:"organization_id" validate:"required"`
	ProfileID      string    `json:"profile_id" validate:"required"`
	Kind           string    `json:"kind" validate:"required"`
	Value          float64   `json:"value"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *Server) handleRecordEvent(c echo.Context) error {
	var req EventRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Handlers.RecordEvent.Handle(c.Request().Context(), command.RecordEventCommand{
		EventID:        req.EventID,
		OrganizationID: req.OrganizationID,
		ProfileID:      req.ProfileID,
		Kind:           req.Kind,
		Value:          req.Value,
		OccurredAt:     req.OccurredAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]any{"event_id": res.EventID, "duplicate": res.Duplicate})
}

// AggregationResponse reports one aggregator pass.
type AggregationResponse struct {
	Candidates int    `json:"candidates"`
	Scored     int    `json:"scored"`
	Deferred   int    `json:"deferred"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	TimedOut   bool   `json:"timed_out"`
	Duration   string `json:"duration"`
}

func (s *Server) handleAggregate(c echo.Context) error {
	var cmd command.AggregateReputationCommand
	if raw := c.QueryParam("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "timeout must be a positive duration")
		}
		cmd.Timeout = d
	}

	// The pass runs on its own time budget; a dropped client does not abort it.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := s.deps.Handlers.Aggregate.Handle(ctx, cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AggregationResponse{
		Candidates: res.Candidates,
		Scored:     res.Scored,
		Deferred:   res.Deferred,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		TimedOut:   res.TimedOut,
		Duration:   res.Duration.String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}
