// Package diff computes the set of operations needed to bring a stored
// SourceStatus history in line with a freshly fetched live timeline.
// Grounded on original_source/src/sources/operation_factory.rs's
// create_operations: an empty-state guard for first-ever sync, a create
// set for identifiers newer than anything stored, and an update/delete
// set for stored rows at or after the oldest live post's timestamp.
package diff

import (
	"context"
	"sort"
	"time"

	"github.com/klppl/timelineecho/internal/linkcard"
	"github.com/klppl/timelineecho/internal/model"
)

// Result is the diff engine's output for one user: the operations to
// queue, and the fresh SourceStatus rows that should replace the stored
// ones once those operations are committed.
type Result struct {
	Operations  []model.Operation
	NewStatuses []model.SourceStatus
}

// Compute diffs live against stored, resolving link cards for any live
// post whose External state is Unknown along the way.
//
// When stored is empty this is a first-ever sync for the user: every live
// post is recorded as a SourceStatus but none are queued as operations,
// since there is no destination history yet worth replaying (spec's
// empty-state guard — mirrors the original's `src.statuses.is_empty()`
// special case, which seeds state on the first run instead of replaying
// the account's entire backlog as new posts).
func Compute(ctx context.Context, cards *linkcard.Client, live []model.LivePost, stored []model.SourceStatus) (Result, error) {
	sorted := make([]model.LivePost, len(live))
	copy(sorted, live)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	newStatuses := make([]model.SourceStatus, 0, len(sorted))
	for _, p := range sorted {
		newStatuses = append(newStatuses, toSourceStatus(p))
	}

	if len(stored) == 0 {
		return Result{NewStatuses: newStatuses}, nil
	}

	var lastStoredAt = stored[0].CreatedAt
	for _, s := range stored {
		if s.CreatedAt.After(lastStoredAt) {
			lastStoredAt = s.CreatedAt
		}
	}

	var ops []model.Operation

	// Create set: live posts newer than anything previously stored.
	for _, p := range sorted {
		if !p.CreatedAt.After(lastStoredAt) {
			continue
		}
		op, err := toCreateOperation(ctx, cards, p)
		if err != nil {
			return Result{}, err
		}
		ops = append(ops, op)
	}

	// Update/delete set: stored rows at or after the oldest still-live
	// post's CreatedAt are checked against the live set; a stored row
	// with no live counterpart was deleted at the source, one whose
	// content changed was edited, one that matches exactly needs nothing.
	// The bound is the oldest *live* timestamp, not the oldest *stored*
	// one: a stored row predating the current fetch window is presumed
	// still live but outside what the source returned this cycle, not
	// deleted — this is what avoids false deletes when the source
	// truncates old history out of its window. A completely empty live
	// fetch has no window at all, so every stored row is still checked
	// (oldestLiveAt stays at its zero value, before which nothing real
	// ever falls).
	var oldestLiveAt time.Time
	if len(sorted) > 0 {
		oldestLiveAt = sorted[0].CreatedAt
	}

	liveByID := make(map[string]model.LivePost, len(sorted))
	for _, p := range sorted {
		liveByID[p.Identifier] = p
	}

	for _, s := range stored {
		if s.CreatedAt.Before(oldestLiveAt) {
			continue
		}
		live, ok := liveByID[s.Identifier]
		if !ok {
			ops = append(ops, model.Operation{
				Kind:          deleteKindFor(s),
				SrcIdentifier: s.Identifier,
				CreatedAt:     s.CreatedAt,
			})
			continue
		}
		if s.IsPost() && live.Content != s.Content {
			ops = append(ops, model.Operation{
				Kind:          model.OpUpdatePost,
				SrcIdentifier: s.Identifier,
				CreatedAt:     live.CreatedAt,
				Content:       live.Content,
				External:      live.External,
			})
		}
	}

	return Result{Operations: ops, NewStatuses: newStatuses}, nil
}

func deleteKindFor(s model.SourceStatus) model.OperationKind {
	if s.IsRepost() {
		return model.OpDeleteRepost
	}
	return model.OpDeletePost
}

func toSourceStatus(p model.LivePost) model.SourceStatus {
	return model.SourceStatus{
		Kind:               p.Kind,
		Identifier:         p.Identifier,
		CreatedAt:          p.CreatedAt,
		Content:            p.Content,
		TargetIdentifier:   p.TargetIdentifier,
		ReplySrcIdentifier: p.ReplySrcIdentifier,
	}
}

func toCreateOperation(ctx context.Context, cards *linkcard.Client, p model.LivePost) (model.Operation, error) {
	op := model.Operation{
		SrcIdentifier:      p.Identifier,
		CreatedAt:          p.CreatedAt,
		Content:            p.Content,
		TargetIdentifier:   p.TargetIdentifier,
		External:           p.External,
		ReplySrcIdentifier: p.ReplySrcIdentifier,
	}
	if p.Kind == model.StatusKindRepost {
		op.Kind = model.OpCreateRepost
		return op, nil
	}
	op.Kind = model.OpCreatePost
	if op.External != nil && op.External.State == model.ExternalUnknown && cards != nil {
		card, err := cards.Fetch(ctx, op.External.URL)
		if err != nil {
			return model.Operation{}, err
		}
		op.External = card
	}
	return op, nil
}
