// Package merge turns per-user operation lists into a single sorted,
// destination-stamped dispatch queue. Grounded on
// original_source/src/sources/merge_operations.rs: to_store_operations
// (cross product against each user's destination accounts),
// merge_operations (delete-cancels-pending-create folding), and
// sort_operations (the priority-queue ordering below).
package merge

import (
	"math"
	"sort"

	"github.com/klppl/timelineecho/internal/model"
)

// ToStoreOperations stamps each operation with every one of the user's
// destination accounts, producing one StoreOperation per (operation,
// destination) pair.
func ToStoreOperations(src model.AccountKey, dsts []model.AccountKey, ops []model.Operation) []model.StoreOperation {
	out := make([]model.StoreOperation, 0, len(ops)*len(dsts))
	for _, op := range ops {
		for _, dst := range dsts {
			out = append(out, model.StoreOperation{
				Operation: op,
				AccountPair: model.AccountPair{
					Src: src,
					Dst: dst,
				},
			})
		}
	}
	return out
}

// Merge folds fresh operations into a pending queue and re-sorts the
// result. Two cancellation rules apply before the fold:
//
//   - a DeletePost for identifier X removes any still-pending CreatePost
//     for X, and any still-pending CreateRepost whose target is X (the
//     post to create was deleted before it was ever sent).
//   - a DeleteRepost for identifier X removes any still-pending
//     CreateRepost for X itself.
//
// Separately, an UpdatePost for identifier X that matches a still-pending
// CreatePost for X is folded into that Create in place (decided in
// DESIGN.md: the original's "update-before-send" question resolves to
// rewrite-in-place, since there is nothing to update on a post that was
// never created).
func Merge(pending []model.StoreOperation, fresh []model.StoreOperation) []model.StoreOperation {
	deletingPostIDs := map[string]bool{}
	deletingRepostIDs := map[string]bool{}
	for _, op := range fresh {
		switch op.Kind {
		case model.OpDeletePost:
			deletingPostIDs[op.SrcIdentifier] = true
		case model.OpDeleteRepost:
			deletingRepostIDs[op.SrcIdentifier] = true
		}
	}

	// canceledByPostDelete/canceledByRepostDelete record, per identifier
	// and destination, a DeletePost/DeleteRepost that struck a still-
	// pending Create *of that same identifier* for that same destination:
	// that delete has nothing left to send, since the
	// create it would be undoing never went out, so it is dropped below
	// instead of forwarded into remainingFresh. A DeletePost that only
	// canceled a pending CreateRepost targeting it is not itself
	// canceled — the post it targets may already be mirrored from an
	// earlier run and still needs deleting there.
	canceledByPostDelete := map[string]bool{}
	canceledByRepostDelete := map[string]bool{}

	kept := make([]model.StoreOperation, 0, len(pending))
	for _, op := range pending {
		switch op.Kind {
		case model.OpCreatePost:
			if deletingPostIDs[op.SrcIdentifier] {
				canceledByPostDelete[op.SrcIdentifier+"|"+op.Dst.String()] = true
				continue
			}
		case model.OpCreateRepost:
			if deletingPostIDs[op.TargetIdentifier] {
				continue
			}
			if deletingRepostIDs[op.SrcIdentifier] {
				canceledByRepostDelete[op.SrcIdentifier+"|"+op.Dst.String()] = true
				continue
			}
		}
		kept = append(kept, op)
	}

	// Fold updates into still-pending creates for the same (src, dst).
	pendingCreateIdx := make(map[string]int, len(kept))
	for i, op := range kept {
		if op.Kind == model.OpCreatePost {
			pendingCreateIdx[op.SrcIdentifier+"|"+op.Dst.String()] = i
		}
	}

	remainingFresh := make([]model.StoreOperation, 0, len(fresh))
	for _, op := range fresh {
		switch op.Kind {
		case model.OpUpdatePost:
			if idx, ok := pendingCreateIdx[op.SrcIdentifier+"|"+op.Dst.String()]; ok {
				kept[idx].Content = op.Content
				kept[idx].External = op.External
				continue
			}
		case model.OpDeletePost:
			if canceledByPostDelete[op.SrcIdentifier+"|"+op.Dst.String()] {
				continue
			}
		case model.OpDeleteRepost:
			if canceledByRepostDelete[op.SrcIdentifier+"|"+op.Dst.String()] {
				continue
			}
		}
		remainingFresh = append(remainingFresh, op)
	}

	merged := append(kept, remainingFresh...)
	sortOperations(merged)
	return merged
}

// sortOperations orders the dispatch queue: creates newest-first (so the
// most recent activity reaches destinations soonest under a tight
// budget), then updates/repost-deletes, then deletes last (so a post is
// never removed before any of its own pending edits have a chance to be
// superseded).
func sortOperations(ops []model.StoreOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return sortKey(ops[i]) < sortKey(ops[j])
	})
}

func sortKey(op model.StoreOperation) int64 {
	switch op.Kind {
	case model.OpCreatePost, model.OpCreateRepost:
		return -op.CreatedAt.UnixMicro()
	case model.OpUpdatePost, model.OpDeleteRepost:
		return math.MaxInt64 - 1
	case model.OpDeletePost:
		return math.MaxInt64
	default:
		return math.MaxInt64
	}
}
