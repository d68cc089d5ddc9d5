package diff

import (
	"context"
	"testing"
	"time"

	"github.com/klppl/timelineecho/internal/model"
)

func at(minute int) time.Time {
	return time.Date(2026, 1, 1, 12, minute, 0, 0, time.UTC)
}

func TestCompute_EmptyStoreSeedsWithoutOperations(t *testing.T) {
	live := []model.LivePost{
		{Identifier: "p1", Kind: model.StatusKindPost, CreatedAt: at(0), Content: "hello"},
		{Identifier: "p2", Kind: model.StatusKindPost, CreatedAt: at(1), Content: "world"},
	}

	result, err := Compute(context.Background(), nil, live, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 0 {
		t.Fatalf("expected no operations on first sync, got %d", len(result.Operations))
	}
	if len(result.NewStatuses) != 2 {
		t.Fatalf("expected 2 seeded statuses, got %d", len(result.NewStatuses))
	}
}

func TestCompute_NewerPostProducesCreate(t *testing.T) {
	stored := []model.SourceStatus{
		{Kind: model.StatusKindPost, Identifier: "p1", CreatedAt: at(0), Content: "hello"},
	}
	live := []model.LivePost{
		{Identifier: "p1", Kind: model.StatusKindPost, CreatedAt: at(0), Content: "hello"},
		{Identifier: "p2", Kind: model.StatusKindPost, CreatedAt: at(1), Content: "new post"},
	}

	result, err := Compute(context.Background(), nil, live, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d: %+v", len(result.Operations), result.Operations)
	}
	op := result.Operations[0]
	if op.Kind != model.OpCreatePost || op.SrcIdentifier != "p2" {
		t.Fatalf("unexpected operation: %+v", op)
	}
}

func TestCompute_MissingStoredPostProducesDelete(t *testing.T) {
	stored := []model.SourceStatus{
		{Kind: model.StatusKindPost, Identifier: "p1", CreatedAt: at(0), Content: "hello"},
	}
	result, err := Compute(context.Background(), nil, nil, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 1 || result.Operations[0].Kind != model.OpDeletePost {
		t.Fatalf("expected 1 DeletePost operation, got %+v", result.Operations)
	}
}

func TestCompute_ChangedContentProducesUpdate(t *testing.T) {
	stored := []model.SourceStatus{
		{Kind: model.StatusKindPost, Identifier: "p1", CreatedAt: at(0), Content: "hello"},
	}
	live := []model.LivePost{
		{Identifier: "p1", Kind: model.StatusKindPost, CreatedAt: at(0), Content: "hello, edited"},
	}
	result, err := Compute(context.Background(), nil, live, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 1 || result.Operations[0].Kind != model.OpUpdatePost {
		t.Fatalf("expected 1 UpdatePost operation, got %+v", result.Operations)
	}
}

func TestCompute_RepostIsTrackedByTarget(t *testing.T) {
	stored := []model.SourceStatus{
		{Kind: model.StatusKindPost, Identifier: "p1", CreatedAt: at(0), Content: "hello"},
	}
	live := []model.LivePost{
		{Identifier: "p1", Kind: model.StatusKindPost, CreatedAt: at(0), Content: "hello"},
		{Identifier: "r1", Kind: model.StatusKindRepost, CreatedAt: at(1), TargetIdentifier: "other-post"},
	}
	result, err := Compute(context.Background(), nil, live, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %+v", result.Operations)
	}
	op := result.Operations[0]
	if op.Kind != model.OpCreateRepost || op.TargetIdentifier != "other-post" {
		t.Fatalf("unexpected repost operation: %+v", op)
	}
}

func TestCompute_DeletedRepostProducesDeleteRepost(t *testing.T) {
	stored := []model.SourceStatus{
		{Kind: model.StatusKindRepost, Identifier: "r1", CreatedAt: at(0), TargetIdentifier: "other-post"},
	}
	result, err := Compute(context.Background(), nil, nil, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 1 || result.Operations[0].Kind != model.OpDeleteRepost {
		t.Fatalf("expected 1 DeleteRepost operation, got %+v", result.Operations)
	}
}

func TestCompute_StoredRowOlderThanLiveWindowIsNotDeleted(t *testing.T) {
	// p0 predates everything the source returned this cycle: the source
	// truncated its window rather than actually deleting p0, so it must
	// not be diffed against live at all.
	stored := []model.SourceStatus{
		{Kind: model.StatusKindPost, Identifier: "p0", CreatedAt: at(0), Content: "ancient"},
		{Kind: model.StatusKindPost, Identifier: "p1", CreatedAt: at(5), Content: "hello"},
	}
	live := []model.LivePost{
		{Identifier: "p1", Kind: model.StatusKindPost, CreatedAt: at(5), Content: "hello"},
	}
	result, err := Compute(context.Background(), nil, live, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 0 {
		t.Fatalf("expected the out-of-window stored row to be left alone, got %+v", result.Operations)
	}
}

func TestCompute_UnchangedPostProducesNoOperation(t *testing.T) {
	stored := []model.SourceStatus{
		{Kind: model.StatusKindPost, Identifier: "p1", CreatedAt: at(0), Content: "hello"},
	}
	live := []model.LivePost{
		{Identifier: "p1", Kind: model.StatusKindPost, CreatedAt: at(0), Content: "hello"},
	}
	result, err := Compute(context.Background(), nil, live, stored)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(result.Operations) != 0 {
		t.Fatalf("expected no operations for unchanged post, got %+v", result.Operations)
	}
}
