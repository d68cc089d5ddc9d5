package merge

import (
	"testing"
	"time"

	"github.com/klppl/timelineecho/internal/model"
)

var (
	src  = model.AccountKey{Origin: model.ProtocolATProto, Identifier: "alice.bsky.social"}
	dst1 = model.AccountKey{Origin: model.ProtocolMastodon, Identifier: "mastodon.social|alice"}
	dst2 = model.AccountKey{Origin: model.ProtocolMisskey, Identifier: "misskey.io|alice"}
)

func TestToStoreOperations_CrossProductsEveryDestination(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpCreatePost, SrcIdentifier: "p1"},
		{Kind: model.OpCreatePost, SrcIdentifier: "p2"},
	}
	out := ToStoreOperations(src, []model.AccountKey{dst1, dst2}, ops)
	if len(out) != 4 {
		t.Fatalf("expected 4 store operations (2 ops x 2 dsts), got %d", len(out))
	}
}

func TestMerge_DeletePostCancelsPendingCreate(t *testing.T) {
	pending := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p1", CreatedAt: time.Now()}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	fresh := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpDeletePost, SrcIdentifier: "p1"}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	merged := Merge(pending, fresh)
	if len(merged) != 0 {
		t.Fatalf("expected the pending create and the delete to cancel out, got %+v", merged)
	}
}

func TestMerge_DeletePostCancelsPendingRepostOfThatPost(t *testing.T) {
	pending := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreateRepost, SrcIdentifier: "r1", TargetIdentifier: "p1", CreatedAt: time.Now()}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	fresh := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpDeletePost, SrcIdentifier: "p1"}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	merged := Merge(pending, fresh)
	if len(merged) != 1 {
		t.Fatalf("expected only the delete to remain, got %+v", merged)
	}
	if merged[0].Kind != model.OpDeletePost {
		t.Fatalf("expected remaining operation to be the delete, got %+v", merged[0])
	}
}

func TestMerge_DeleteRepostCancelsPendingCreateRepost(t *testing.T) {
	pending := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreateRepost, SrcIdentifier: "r1", CreatedAt: time.Now()}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	fresh := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpDeleteRepost, SrcIdentifier: "r1"}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	merged := Merge(pending, fresh)
	if len(merged) != 0 {
		t.Fatalf("expected the pending repost and the delete-repost to cancel out, got %+v", merged)
	}
}

func TestMerge_UpdateFoldsIntoPendingCreate(t *testing.T) {
	pending := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p1", Content: "v1", CreatedAt: time.Now()}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	fresh := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpUpdatePost, SrcIdentifier: "p1", Content: "v2"}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	merged := Merge(pending, fresh)
	if len(merged) != 1 {
		t.Fatalf("expected exactly one operation after folding, got %+v", merged)
	}
	if merged[0].Kind != model.OpCreatePost || merged[0].Content != "v2" {
		t.Fatalf("expected the create to carry the updated content, got %+v", merged[0])
	}
}

func TestMerge_UpdateForUnrelatedDestinationIsNotFolded(t *testing.T) {
	pending := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p1", Content: "v1", CreatedAt: time.Now()}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	fresh := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpUpdatePost, SrcIdentifier: "p1", Content: "v2"}, AccountPair: model.AccountPair{Src: src, Dst: dst2}},
	}
	merged := Merge(pending, fresh)
	if len(merged) != 2 {
		t.Fatalf("expected both operations to remain distinct (different destinations), got %+v", merged)
	}
}

func TestMerge_SortOrdersCreatesNewestFirstThenUpdatesThenDeletesLast(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	fresh := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpDeletePost, SrcIdentifier: "old"}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "a", CreatedAt: older}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "b", CreatedAt: newer}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
		{Operation: model.Operation{Kind: model.OpUpdatePost, SrcIdentifier: "c"}, AccountPair: model.AccountPair{Src: src, Dst: dst1}},
	}
	merged := Merge(nil, fresh)
	if len(merged) != 4 {
		t.Fatalf("expected all 4 operations to survive merge with no pending queue, got %d", len(merged))
	}
	if merged[0].SrcIdentifier != "b" || merged[1].SrcIdentifier != "a" {
		t.Fatalf("expected newest create first, got order %+v", merged)
	}
	if merged[2].Kind != model.OpUpdatePost {
		t.Fatalf("expected the update third, got %+v", merged[2])
	}
	if merged[3].Kind != model.OpDeletePost {
		t.Fatalf("expected the delete last, got %+v", merged[3])
	}
}
