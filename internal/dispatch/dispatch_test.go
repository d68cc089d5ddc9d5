package dispatch

import (
	"context"
	"testing"

	"github.com/klppl/timelineecho/internal/adapter"
	"github.com/klppl/timelineecho/internal/model"
)

type fakeAdapter struct {
	origin      model.Protocol
	nextID      int
	postErr     error
	posted      []model.Operation
	reposted    []string
	deleted     []string
	deletedRep  []string
}

func (f *fakeAdapter) Origin() model.Protocol { return f.origin }

func (f *fakeAdapter) FetchStatuses(ctx context.Context) ([]model.LivePost, error) { return nil, nil }

func (f *fakeAdapter) Post(ctx context.Context, op model.Operation) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.nextID++
	f.posted = append(f.posted, op)
	return "dst-id", nil
}

func (f *fakeAdapter) Repost(ctx context.Context, dstIdentifier string) (string, error) {
	f.reposted = append(f.reposted, dstIdentifier)
	return "repost-id", nil
}

func (f *fakeAdapter) Update(ctx context.Context, dstIdentifier string, op model.Operation) error {
	return nil
}

func (f *fakeAdapter) Delete(ctx context.Context, dstIdentifier string) error {
	f.deleted = append(f.deleted, dstIdentifier)
	return nil
}

func (f *fakeAdapter) DeleteRepost(ctx context.Context, dstIdentifier string) error {
	f.deletedRep = append(f.deletedRep, dstIdentifier)
	return nil
}

var dst = model.AccountKey{Origin: model.ProtocolMastodon, Identifier: "mastodon.social|alice"}

func resolveTo(a *fakeAdapter) Resolve {
	return func(model.AccountKey) (adapter.Adapter, error) {
		return a, nil
	}
}

func TestRun_CreatePostAppendsDestinationStatus(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{DstStatuses: map[string][]model.DestinationStatus{}}
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p1"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(context.Background(), user, []*model.User{user}, ops, resolveTo(a), -1)
	if len(remaining) != 0 {
		t.Fatalf("expected all operations sent, got %d remaining", len(remaining))
	}
	statuses := user.DstStatuses[dst.String()]
	if len(statuses) != 1 || statuses[0].SrcIdentifier != "p1" || statuses[0].DstIdentifier != "dst-id" {
		t.Fatalf("unexpected destination statuses: %+v", statuses)
	}
}

func TestRun_BudgetStopsAfterLimit(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{DstStatuses: map[string][]model.DestinationStatus{}}
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p1"}, AccountPair: model.AccountPair{Dst: dst}},
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p2"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(context.Background(), user, []*model.User{user}, ops, resolveTo(a), 1)
	if len(remaining) != 1 {
		t.Fatalf("expected 1 operation left over with a budget of 1, got %d", len(remaining))
	}
	if remaining[0].SrcIdentifier != "p2" {
		t.Fatalf("expected the second operation to be the one left over, got %+v", remaining[0])
	}
}

func TestRun_DeletePostWithNoResolvedTargetIsSkippedNotError(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{DstStatuses: map[string][]model.DestinationStatus{}}
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpDeletePost, SrcIdentifier: "never-mirrored"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(context.Background(), user, []*model.User{user}, ops, resolveTo(a), -1)
	if len(remaining) != 0 {
		t.Fatalf("an unresolvable delete should be skipped, not left pending: %+v", remaining)
	}
	if len(a.deleted) != 0 {
		t.Fatalf("adapter Delete should never have been called")
	}
}

func TestRun_CreateRepostResolvesTargetAgainstDestinationHistory(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{
		DstStatuses: map[string][]model.DestinationStatus{
			dst.String(): {
				{Kind: model.StatusKindPost, SrcIdentifier: "original", DstIdentifier: "mirrored-id"},
			},
		},
	}
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreateRepost, SrcIdentifier: "r1", TargetIdentifier: "original"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(context.Background(), user, []*model.User{user}, ops, resolveTo(a), -1)
	if len(remaining) != 0 {
		t.Fatalf("expected the repost to dispatch, got %d remaining", len(remaining))
	}
	if len(a.reposted) != 1 || a.reposted[0] != "mirrored-id" {
		t.Fatalf("expected repost against resolved id mirrored-id, got %+v", a.reposted)
	}
}

func TestRun_CreatePostResolvesSelfReplyParent(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{
		DstStatuses: map[string][]model.DestinationStatus{
			dst.String(): {
				{Kind: model.StatusKindPost, SrcIdentifier: "root1", DstIdentifier: "mirrored-root"},
			},
		},
	}
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "reply1", ReplySrcIdentifier: "root1"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(context.Background(), user, []*model.User{user}, ops, resolveTo(a), -1)
	if len(remaining) != 0 {
		t.Fatalf("expected the reply to dispatch, got %d remaining", len(remaining))
	}
	if len(a.posted) != 1 || a.posted[0].ReplyDstIdentifier != "mirrored-root" {
		t.Fatalf("expected the post to carry the resolved reply parent, got %+v", a.posted)
	}
}

func TestRun_CreatePostWithUnresolvedReplyParentPostsStandalone(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{DstStatuses: map[string][]model.DestinationStatus{}}
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "reply1", ReplySrcIdentifier: "never-mirrored"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(context.Background(), user, []*model.User{user}, ops, resolveTo(a), -1)
	if len(remaining) != 0 {
		t.Fatalf("expected the reply to still dispatch standalone, got %d remaining", len(remaining))
	}
	if len(a.posted) != 1 || a.posted[0].ReplyDstIdentifier != "" {
		t.Fatalf("expected no reply identifier when the parent never resolved, got %+v", a.posted)
	}
}

func TestRun_ContextCancellationStopsDispatch(t *testing.T) {
	a := &fakeAdapter{}
	user := &model.User{DstStatuses: map[string][]model.DestinationStatus{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ops := []model.StoreOperation{
		{Operation: model.Operation{Kind: model.OpCreatePost, SrcIdentifier: "p1"}, AccountPair: model.AccountPair{Dst: dst}},
	}
	remaining := Run(ctx, user, []*model.User{user}, ops, resolveTo(a), -1)
	if len(remaining) != 1 {
		t.Fatalf("expected the operation to remain pending after cancellation, got %d", len(remaining))
	}
	if len(a.posted) != 0 {
		t.Fatalf("adapter should never have been called once ctx was cancelled")
	}
}
