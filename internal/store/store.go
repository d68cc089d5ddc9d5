// Package store persists the cross-protocol mirror state (spec.md §3's
// Store) and pending operation queue between runs. Grounded on
// internal/db/db.go: a dual SQLite/PostgreSQL backend sharing one schema,
// a driver-detecting Open, and a sync-map-backed identifier cache — here
// repurposed from "AP ID ↔ Nostr ID" mapping to the general cross-
// protocol AccountKey/identifier mapping this spec's Store needs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/klppl/timelineecho/internal/model"
)

// State is the full persisted document: every configured user's source
// history, destination history, and pending operation queue. This is the
// camelCase JSON tree spec.md §6 describes as the persisted store schema.
type State struct {
	Users []model.User `json:"users"`
}

// Backend is the persistence backend capability spec.md §6 names:
// fetch/commit plus a per-run operation budget. Two implementations exist:
// a SQLite (local file) backend reporting Unbounded, and a PostgreSQL
// (remote key-value-shaped) backend capping the budget at 2, matching the
// original's literal DynamoDB throttle loop.
type Backend interface {
	Fetch(ctx context.Context) (*State, error)
	Commit(ctx context.Context, s *State) error
	// OperationBudget returns the maximum number of operations the
	// dispatcher may send this run, or -1 for unbounded.
	OperationBudget() int
	Close() error
}

// Unbounded is the sentinel OperationBudget for backends with no
// meaningful per-run cap (the local-file backend).
const Unbounded = -1

// sqlBackend implements Backend over database/sql, shared between the
// SQLite and PostgreSQL drivers the way internal/db/db.go shares one
// Store type across both.
type sqlBackend struct {
	db     *sql.DB
	driver string
	budget int

	// identCache is an xsync.MapOf keyed by string that Commit clears on
	// every call; nothing in this package reads or fills it, so it does
	// not memoize identifier lookups (those are done by internal/resolver).
	identCache *xsync.MapOf[string, string]
}

// Open opens the persistence backend named by databaseURL, exactly as
// internal/db/db.go's Open does: a bare path or "sqlite://" prefix
// selects the local-file SQLite backend (Unbounded budget); a
// "postgres://" or "postgresql://" URL selects the remote PostgreSQL
// backend (budget capped at 2).
func Open(databaseURL string) (Backend, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}

	budget := Unbounded
	if driver == "sqlite" {
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		slog.Info("store: sqlite backend opened", "max_conns", sqliteMaxConns)
	} else {
		budget = 2
		slog.Info("store: postgres backend opened", "operation_budget", budget)
	}

	b := &sqlBackend{db: db, driver: driver, budget: budget, identCache: xsync.NewMapOf[string, string]()}
	if err := b.migrate(); err != nil {
		return nil, err
	}
	return b, nil
}

var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		ts     TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_ts ON audit_log(ts)`,
}

func (b *sqlBackend) migrate() error {
	for _, m := range commonMigrations {
		if _, err := b.db.Exec(m); err != nil {
			if b.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("store migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

const stateKey = "state"

// Fetch loads the persisted State, returning an empty State (not an
// error) when no state has ever been committed — the first-ever run for
// a fresh backend.
func (b *sqlBackend) Fetch(ctx context.Context) (*State, error) {
	row := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = `+b.ph(1), stateKey)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return &State{}, nil
		}
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &s, nil
}

// Commit persists s, replacing whatever was stored before, and records
// the commit in audit_log under a fresh run ID: one row per state-
// changing action, here generalized to "one run's commit."
func (b *sqlBackend) Commit(ctx context.Context, s *State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	var q string
	if b.driver == "sqlite" {
		q = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	} else {
		q = `INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`
	}
	if _, err := b.db.ExecContext(ctx, q, stateKey, string(raw)); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}

	runID := uuid.NewString()
	detail := fmt.Sprintf("run=%s users=%d", runID, len(s.Users))
	auditQ := `INSERT INTO audit_log (ts, action, detail) VALUES (` + b.ph(1) + `, ` + b.ph(2) + `, ` + b.ph(3) + `)`
	if _, err := b.db.ExecContext(ctx, auditQ, time.Now().UTC().Format(time.RFC3339), "commit", detail); err != nil {
		slog.Warn("store: audit log write failed", "run_id", runID, "error", err)
	}

	b.identCache.Clear()
	return nil
}

func (b *sqlBackend) OperationBudget() int { return b.budget }

func (b *sqlBackend) Close() error { return b.db.Close() }

func (b *sqlBackend) ph(n int) string {
	if b.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// GetOrCreateUser returns the User matching src, appending a new, empty
// one to s.Users if none exists yet.
func GetOrCreateUser(s *State, src model.SourceAccount, dsts []model.DestinationAccount) *model.User {
	for i := range s.Users {
		if s.Users[i].Src.AccountKey == src.AccountKey {
			return &s.Users[i]
		}
	}
	s.Users = append(s.Users, model.User{
		Src:         src,
		Dsts:        dsts,
		DstStatuses: map[string][]model.DestinationStatus{},
	})
	return &s.Users[len(s.Users)-1]
}

// NecessaryIdentifiers computes the set of source identifiers that
// destination rows must still be retained for, as the union across every
// configured user, not just one: every identifier that is itself a
// stored Post, plus every identifier a stored Repost targets (for the
// "post" set), and every identifier that is itself a stored Repost (for
// the "repost" set). The union is required because a repost or reply can
// resolve its target against a post mirrored under a different user's
// destinations (see internal/resolver), so a row is only safe to drop
// once no user's SrcStatuses still needs it. Grounded directly on
// original_source/src/sources/source.rs's
// necessary_post_src_identifiers/necessary_repost_src_identifiers, which
// iterate store.sources (all of them) rather than a single source.
func NecessaryIdentifiers(users []*model.User) (posts map[string]bool, reposts map[string]bool) {
	posts = map[string]bool{}
	reposts = map[string]bool{}
	for _, u := range users {
		for _, s := range u.SrcStatuses {
			switch s.Kind {
			case model.StatusKindPost:
				posts[s.Identifier] = true
			case model.StatusKindRepost:
				posts[s.TargetIdentifier] = true
				reposts[s.Identifier] = true
			}
		}
	}
	return posts, reposts
}

// PruneDestinationRows drops DestinationStatus rows belonging to u that
// no longer correspond to a live SourceStatus anywhere in allUsers, per
// spec.md §4.7. It returns true if any row was actually removed, so the
// caller only needs to Commit when pruning changed something (mirroring
// the original's retain_all_dst_statuses, which only commits
// `if store.operations.is_empty()` and something changed).
func PruneDestinationRows(u *model.User, allUsers []*model.User) (changed bool) {
	necessaryPosts, necessaryReposts := NecessaryIdentifiers(allUsers)
	for dst, statuses := range u.DstStatuses {
		kept := statuses[:0:0]
		for _, s := range statuses {
			switch s.Kind {
			case model.StatusKindPost:
				if necessaryPosts[s.SrcIdentifier] {
					kept = append(kept, s)
				} else {
					changed = true
				}
			case model.StatusKindRepost:
				if necessaryReposts[s.SrcIdentifier] {
					kept = append(kept, s)
				} else {
					changed = true
				}
			}
		}
		u.DstStatuses[dst] = kept
	}
	return changed
}
