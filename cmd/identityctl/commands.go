package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/academy-identity/internal/app"
	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// MERGE / UNMERGE
// ══════════════════════════════════════════════════════════════════════════════

type mergeOutput struct {
	CanonicalIdentityID string   `json:"canonical_identity_id"`
	MergedIdentityID    string   `json:"merged_identity_id"`
	MergeAuditID        string   `json:"merge_audit_id"`
	MovedLinks          int      `json:"moved_links"`
	ResolvedConflictIDs []string `json:"resolved_conflict_ids"`
}

func newMergeOutput(r *command.MergeIdentitiesResult) mergeOutput {
	ids := r.ResolvedConflictIDs
	if ids == nil {
		ids = []string{}
	}
	return mergeOutput{
		CanonicalIdentityID: r.SurvivorID,
		MergedIdentityID:    r.LoserID,
		MergeAuditID:        r.MergeAuditID,
		MovedLinks:          r.MovedLinks,
		ResolvedConflictIDs: ids,
	}
}

func (c *cli) mergeCmd() *cobra.Command {
	var cmd command.MergeIdentitiesCommand

	cc := &cobra.Command{
		Use:   "merge <identity-a> <identity-b>",
		Short: "Merge two identities into the older one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cc *cobra.Command, args []string) error {
			cmd.IdentityA, cmd.IdentityB = args[0], args[1]
			return c.withHandlers(cc.Context(), func(ctx context.Context, h *app.Handlers) error {
				res, err := h.Merge.Handle(ctx, cmd)
				if err != nil {
					return err
				}
				return c.print(newMergeOutput(res))
			})
		},
	}
	cc.Flags().StringVar(&cmd.Actor, "actor", "", "Operator recorded in the audit log")
	cc.Flags().StringVar(&cmd.Reason, "reason", "", "Reason recorded in the audit log")
	cc.Flags().StringSliceVar(&cmd.ConflictIDs, "conflict", nil, "Conflict to close as resolved-merge (repeatable)")
	_ = cc.MarkFlagRequired("actor")
	return cc
}

type unmergeOutput struct {
	RestoredIdentityIDA string `json:"restored_identity_id_a"`
	RestoredIdentityIDB string `json:"restored_identity_id_b"`
	UnmergeAuditID      string `json:"unmerge_audit_id"`
	MovedLinks          int    `json:"moved_links"`
}

func (c *cli) unmergeCmd() *cobra.Command {
	var cmd command.UnmergeIdentitiesCommand

	cc := &cobra.Command{
		Use:   "unmerge <merge-audit-id>",
		Short: "Reverse a merge recorded in the audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			cmd.MergeAuditID = args[0]
			return c.withHandlers(cc.Context(), func(ctx context.Context, h *app.Handlers) error {
				res, err := h.Unmerge.Handle(ctx, cmd)
				if err != nil {
					return err
				}
				return c.print(unmergeOutput{
					RestoredIdentityIDA: res.SurvivorID,
					RestoredIdentityIDB: res.RestoredID,
					UnmergeAuditID:      res.UnmergeAuditID,
					MovedLinks:          res.MovedLinks,
				})
			})
		},
	}
	cc.Flags().StringVar(&cmd.Actor, "actor", "", "Operator recorded in the audit log")
	cc.Flags().StringVar(&cmd.Reason, "reason", "", "Reason recorded in the audit log")
	_ = cc.MarkFlagRequired("actor")
	return cc
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICTS
// ══════════════════════════════════════════════════════════════════════════════

func (c *cli) conflictsCmd() *cobra.Command {
	cc := &cobra.Command{
		Use:   "conflicts",
		Short: "Review identity conflicts",
	}
	cc.AddCommand(c.conflictsListCmd(), c.conflictsResolveCmd())
	return cc
}

func (c *cli) conflictsListCmd() *cobra.Command {
	var q query.ListConflictsQuery

	cc := &cobra.Command{
		Use:   "list",
		Short: "List conflicts, open ones by default",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, args []string) error {
			return c.withHandlers(cc.Context(), func(ctx context.Context, h *app.Handlers) error {
				items, err := h.ListConflicts.Handle(ctx, q)
				if err != nil {
					return err
				}
				if items == nil {
					items = []query.ConflictDTO{}
				}
				return c.print(items)
			})
		},
	}
	cc.Flags().StringVar(&q.Status, "status", "open", "Conflict status (open, resolved-merge, resolved-separate); empty for any")
	cc.Flags().StringVar(&q.IdentityID, "identity", "", "Only conflicts involving this identity")
	cc.Flags().IntVar(&q.Limit, "limit", 50, "Maximum number of conflicts")
	cc.Flags().IntVar(&q.Offset, "offset", 0, "Number of conflicts to skip")
	return cc
}

type resolveConflictOutput struct {
	Conflict query.ConflictDTO `json:"conflict"`
	Merge    *mergeOutput      `json:"merge,omitempty"`
}

func (c *cli) conflictsResolveCmd() *cobra.Command {
	var (
		cmd      command.ResolveConflictCommand
		decision string
	)

	cc := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Close a conflict by merging or separating its identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			cmd.ConflictID = args[0]
			cmd.Decision = command.Decision(decision)
			return c.withHandlers(cc.Context(), func(ctx context.Context, h *app.Handlers) error {
				res, err := h.ResolveConflict.Handle(ctx, cmd)
				if err != nil {
					return err
				}
				out := resolveConflictOutput{Conflict: query.NewConflictDTO(res.Conflict)}
				if res.Merge != nil {
					m := newMergeOutput(res.Merge)
					out.Merge = &m
				}
				return c.print(out)
			})
		},
	}
	cc.Flags().StringVar(&decision, "decision", "", "merge or separate")
	cc.Flags().StringVar(&cmd.Actor, "actor", "", "Operator recorded in the audit log")
	cc.Flags().StringVar(&cmd.Reason, "reason", "", "Reason recorded in the audit log")
	_ = cc.MarkFlagRequired("decision")
	_ = cc.MarkFlagRequired("actor")
	return cc
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

type aggregateOutput struct {
	Candidates int    `json:"candidates"`
	Scored     int    `json:"scored"`
	Deferred   int    `json:"deferred"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	TimedOut   bool   `json:"timed_out"`
	Duration   string `json:"duration"`
}

func (c *cli) aggregateCmd() *cobra.Command {
	var cmd command.AggregateReputationCommand

	cc := &cobra.Command{
		Use:   "aggregate",
		Short: "Run one reputation aggregator pass now",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, args []string) error {
			return c.withHandlers(cc.Context(), func(ctx context.Context, h *app.Handlers) error {
				res, err := h.Aggregate.Handle(ctx, cmd)
				if err != nil {
					return err
				}
				return c.print(aggregateOutput{
					Candidates: res.Candidates,
					Scored:     res.Scored,
					Deferred:   res.Deferred,
					Skipped:    res.Skipped,
					Failed:     res.Failed,
					TimedOut:   res.TimedOut,
					Duration:   res.Duration.Round(time.Millisecond).String(),
				})
			})
		},
	}
	cc.Flags().DurationVar(&cmd.Timeout, "timeout", 0, "Time box for the pass; 0 uses REPUTATION_RUN_TIMEOUT")
	return cc
}
