// Package dispatch executes a sorted, destination-stamped operation
// queue against the resolved adapter for each destination, respecting the
// backend's per-run operation budget and the run's context deadline.
// Grounded directly on original_source/src/destination.rs's
// post_operation/post: per-variant execution semantics, warn-and-skip on
// unresolvable identifiers, and the operation-budget throttle loop (the
// original's literal `for _ in 0..2`, here store.Backend.OperationBudget()).
package dispatch

import (
	"context"
	"log/slog"

	"github.com/klppl/timelineecho/internal/adapter"
	"github.com/klppl/timelineecho/internal/model"
	"github.com/klppl/timelineecho/internal/resolver"
	"github.com/klppl/timelineecho/internal/runerr"
)

// Resolve looks up the adapter for a given destination account key.
type Resolve func(model.AccountKey) (adapter.Adapter, error)

// Run sends ops in order against user's destinations, stopping once
// budget operations have been sent (budget < 0 means unbounded) or ctx
// is done, whichever comes first. allUsers is the full configured user
// list (user included), passed through to the identifier resolver so a
// repost or reply can resolve against a post mirrored under a different
// user's destinations, not just user's own history. Run mutates
// user.DstStatuses in place to reflect what was sent, and returns the
// operations that were not sent this cycle (because the budget or
// deadline was reached) so the caller can persist them as still-pending.
func Run(ctx context.Context, user *model.User, allUsers []*model.User, ops []model.StoreOperation, resolve Resolve, budget int) (remaining []model.StoreOperation) {
	sent := 0
	for i, op := range ops {
		if ctx.Err() != nil {
			return ops[i:]
		}
		if budget >= 0 && sent >= budget {
			return ops[i:]
		}

		a, err := resolve(op.Dst)
		if err != nil {
			slog.Warn("dispatch: no adapter for destination", "dst", op.Dst.String(), "error", err)
			continue
		}

		if err := dispatchOne(ctx, user, allUsers, a, op); err != nil {
			slog.Warn("dispatch: operation failed", "kind", op.Kind, "src", op.SrcIdentifier, "dst", op.Dst.String(), "error", err)
			continue
		}
		sent++
	}
	return nil
}

func dispatchOne(ctx context.Context, user *model.User, allUsers []*model.User, a adapter.Adapter, op model.StoreOperation) error {
	dstKey := op.Dst.String()

	switch op.Kind {
	case model.OpCreatePost:
		if op.ReplySrcIdentifier != "" {
			if replyDstID, ok := resolver.ToDestinationIdentifier(allUsers, op.Src.Origin, op.Dst, op.ReplySrcIdentifier, false); ok {
				op.ReplyDstIdentifier = replyDstID
			} else {
				slog.Warn("dispatch: reply parent not mirrored, posting standalone", "parent", op.ReplySrcIdentifier, "dst", dstKey)
			}
		}
		id, err := a.Post(ctx, op.Operation)
		if err != nil {
			return err
		}
		appendDstStatus(user, dstKey, model.DestinationStatus{
			Kind:          model.StatusKindPost,
			SrcIdentifier: op.SrcIdentifier,
			DstIdentifier: id,
		})
		return nil

	case model.OpCreateRepost:
		targetDstID, ok := resolver.ToDestinationIdentifier(allUsers, op.Src.Origin, op.Dst, op.TargetIdentifier, false)
		if !ok {
			slog.Warn("dispatch: repost target not mirrored, skipping", "target", op.TargetIdentifier, "dst", dstKey)
			return &runerr.ResolutionWarning{SrcIdentifier: op.TargetIdentifier, Reason: "repost target never mirrored to this destination"}
		}
		id, err := a.Repost(ctx, targetDstID)
		if err != nil {
			return err
		}
		appendDstStatus(user, dstKey, model.DestinationStatus{
			Kind:             model.StatusKindRepost,
			SrcIdentifier:    op.SrcIdentifier,
			DstIdentifier:    id,
			TargetIdentifier: op.TargetIdentifier,
		})
		return nil

	case model.OpUpdatePost:
		dstID, ok := resolver.ToDestinationIdentifier(allUsers, op.Src.Origin, op.Dst, op.SrcIdentifier, false)
		if !ok {
			slog.Warn("dispatch: update target not mirrored, skipping", "src", op.SrcIdentifier, "dst", dstKey)
			return &runerr.ResolutionWarning{SrcIdentifier: op.SrcIdentifier, Reason: "post never mirrored to this destination"}
		}
		return a.Update(ctx, dstID, op.Operation)

	case model.OpDeletePost:
		dstID, ok := resolver.ToDestinationIdentifier(allUsers, op.Src.Origin, op.Dst, op.SrcIdentifier, false)
		if !ok {
			slog.Warn("dispatch: delete target not mirrored, skipping", "src", op.SrcIdentifier, "dst", dstKey)
			return nil // nothing to delete: not an error, matches the original's warn-and-skip
		}
		// The DestinationStatus row is left in place on success: pruning
		// (store.PruneDestinationRows) is the only place rows are dropped.
		return a.Delete(ctx, dstID)

	case model.OpDeleteRepost:
		dstID, ok := resolver.ToDestinationIdentifier(allUsers, op.Src.Origin, op.Dst, op.SrcIdentifier, true)
		if !ok {
			slog.Warn("dispatch: delete-repost target not mirrored, skipping", "src", op.SrcIdentifier, "dst", dstKey)
			return nil
		}
		return a.DeleteRepost(ctx, dstID)

	default:
		return &runerr.InvariantViolation{Detail: "unknown operation kind: " + string(op.Kind)}
	}
}

func appendDstStatus(user *model.User, dstKey string, s model.DestinationStatus) {
	if user.DstStatuses == nil {
		user.DstStatuses = map[string][]model.DestinationStatus{}
	}
	user.DstStatuses[dstKey] = append(user.DstStatuses[dstKey], s)
}
