// Package orchestrator runs one full fetch → diff → merge → dispatch →
// prune cycle, bound by a wall-clock budget. Grounded on
// cmd/klistr/main.go's subsystem-wiring style, generalized from "one
// long-lived server loop" to "one bounded batch run," and on
// original_source/src/app.rs's app() top-level sequencing (load config,
// fetch store, build clients, dispatch, prune only if the queue drained).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klppl/timelineecho/internal/adapter"
	"github.com/klppl/timelineecho/internal/diff"
	"github.com/klppl/timelineecho/internal/dispatch"
	"github.com/klppl/timelineecho/internal/linkcard"
	"github.com/klppl/timelineecho/internal/merge"
	"github.com/klppl/timelineecho/internal/model"
	"github.com/klppl/timelineecho/internal/protocols"
	"github.com/klppl/timelineecho/internal/runerr"
	"github.com/klppl/timelineecho/internal/store"
)

// Options configures one Run invocation.
type Options struct {
	Backend          store.Backend
	Users            []model.User // fresh from config; merged against persisted state
	AdapterTimeout   time.Duration
	LinkCardTimeout  time.Duration
	FetchConcurrency int
	TwitterProxyURL  string
}

// Run executes one cycle: fetch every user's source timeline (bounded
// fan-out), diff against stored history, merge with any still-pending
// operations, dispatch up to the backend's operation budget, prune
// destination rows once a user's queue has fully drained, and commit.
func Run(ctx context.Context, opts Options) error {
	start := time.Now()
	state, err := opts.Backend.Fetch(ctx)
	if err != nil {
		return &runerr.CommitError{Err: fmt.Errorf("fetch state: %w", err)}
	}

	// Reconcile configured users against persisted state: same Src key
	// reuses stored history, new ones start empty. GetOrCreateUser may
	// grow state.Users and reallocate its backing array, so every insert
	// happens before any pointer into the slice is taken — otherwise an
	// earlier pointer would go stale and its mutations would never reach
	// the slice that gets committed.
	for _, configured := range opts.Users {
		store.GetOrCreateUser(state, configured.Src, configured.Dsts)
	}
	byKey := make(map[model.AccountKey]*model.User, len(state.Users))
	for i := range state.Users {
		byKey[state.Users[i].Src.AccountKey] = &state.Users[i]
	}
	var runUsers []*model.User
	for _, configured := range opts.Users {
		u := byKey[configured.Src.AccountKey]
		u.Dsts = configured.Dsts // credentials/destinations may rotate
		runUsers = append(runUsers, u)
	}

	cards := linkcard.NewClient()
	cards.HTTP.Timeout = opts.LinkCardTimeout

	fetchResults := fanOutFetch(ctx, runUsers, opts.AdapterTimeout, opts.FetchConcurrency)

	budget := opts.Backend.OperationBudget()
	sentTotal := 0

	for i, u := range runUsers {
		if ctx.Err() != nil {
			break
		}
		fr := fetchResults[i]
		if fr.err != nil {
			slog.Warn("orchestrator: fetch failed, skipping user this cycle", "src", u.Src.String(), "error", fr.err)
			continue
		}

		result, err := diff.Compute(ctx, cards, fr.posts, u.SrcStatuses)
		if err != nil {
			slog.Warn("orchestrator: diff failed, skipping user this cycle", "src", u.Src.String(), "error", err)
			continue
		}

		dstKeys := make([]model.AccountKey, 0, len(u.Dsts))
		for _, d := range u.Dsts {
			dstKeys = append(dstKeys, d.AccountKey)
		}
		fresh := merge.ToStoreOperations(u.Src.AccountKey, dstKeys, result.Operations)
		pending := u.PendingOperations
		merged := merge.Merge(pending, fresh)

		remainingBudget := -1
		if budget >= 0 {
			remainingBudget = budget - sentTotal
			if remainingBudget < 0 {
				remainingBudget = 0
			}
		}

		remaining := dispatch.Run(ctx, u, runUsers, merged, adapterResolver(u, opts.TwitterProxyURL, opts.AdapterTimeout), remainingBudget)
		sentTotal += len(merged) - len(remaining)
		u.PendingOperations = remaining
		u.SrcStatuses = result.NewStatuses

		// Pruning, mirroring the original's `if store.operations.is_empty()`
		// guard: only once this user's queue has fully drained, since
		// pruning while operations are still pending could drop destination
		// rows an in-flight operation still needs to resolve against. The
		// necessary-identifier set itself is computed over every configured
		// user, not just u — a row u mirrored can still be the resolved
		// target of a repost or reply queued under a different user.
		if len(remaining) == 0 {
			store.PruneDestinationRows(u, runUsers)
		}
	}

	if err := opts.Backend.Commit(ctx, state); err != nil {
		return &runerr.CommitError{Err: err}
	}

	slog.Info("orchestrator: cycle complete",
		"users", len(runUsers),
		"operations_sent", sentTotal,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

type fetchResult struct {
	posts []model.LivePost
	err   error
}

// fanOutFetch runs each user's source fetch concurrently, bounded by
// concurrency goroutines, using plain channel/WaitGroup fan-out rather
// than a pooling library.
func fanOutFetch(ctx context.Context, users []*model.User, timeout time.Duration, concurrency int) []fetchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]fetchResult, len(users))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, u := range users {
		wg.Add(1)
		go func(i int, u *model.User) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			a, err := protocols.NewSourceAdapter(u.Src, timeout)
			if err != nil {
				results[i] = fetchResult{err: err}
				return
			}
			posts, err := a.FetchStatuses(ctx)
			results[i] = fetchResult{posts: posts, err: err}
		}(i, u)
	}
	wg.Wait()
	return results
}

// adapterResolver builds a dispatch.Resolve bound to one user's
// destination accounts.
func adapterResolver(u *model.User, proxyBaseURL string, timeout time.Duration) dispatch.Resolve {
	cache := map[model.AccountKey]adapter.Adapter{}
	return func(key model.AccountKey) (adapter.Adapter, error) {
		if a, ok := cache[key]; ok {
			return a, nil
		}
		for _, d := range u.Dsts {
			if d.AccountKey == key {
				a, err := protocols.NewDestinationAdapter(d, proxyBaseURL, timeout)
				if err != nil {
					return nil, err
				}
				cache[key] = a
				return a, nil
			}
		}
		return nil, fmt.Errorf("no destination account configured for %s", key.String())
	}
}
