// Package config loads the user/account list (spec.md §6's Config
// schema) from a JSON file, and the run's tunables from environment
// variables. The tunables half follows the getEnv/parseDuration/parseInt
// helper shape used elsewhere in this codebase; the account-list half
// follows original_source/src/config.rs's Config{users}/Account JSON
// shape, generalized to a multi-user list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/klppl/timelineecho/internal/model"
)

// Tunables holds the run's performance/behavior knobs, all sourced from
// environment variables with sensible defaults.
type Tunables struct {
	DatabaseURL     string        // DATABASE_URL — path for sqlite, postgres://... for PostgreSQL (default: timelineecho.db)
	RunBudget       time.Duration // RUN_BUDGET — wall-clock budget for one cycle (default 80s, per spec.md §5)
	AdapterTimeout  time.Duration // ADAPTER_TIMEOUT — per-request HTTP timeout for protocol adapters (default 15s)
	LinkCardTimeout time.Duration // LINKCARD_TIMEOUT — per-request HTTP timeout for link-card fetches (default 6s)
	FetchConcurrency int          // FETCH_CONCURRENCY — max concurrent source fetch goroutines (default 4)
}

// LoadTunables reads Tunables from the environment.
func LoadTunables() *Tunables {
	return &Tunables{
		DatabaseURL:      getEnv("DATABASE_URL", "timelineecho.db"),
		RunBudget:        parseDuration(os.Getenv("RUN_BUDGET"), 80*time.Second),
		AdapterTimeout:   parseDuration(os.Getenv("ADAPTER_TIMEOUT"), 15*time.Second),
		LinkCardTimeout:  parseDuration(os.Getenv("LINKCARD_TIMEOUT"), 6*time.Second),
		FetchConcurrency: parseInt(os.Getenv("FETCH_CONCURRENCY"), 4),
	}
}

// rawAccount is the JSON shape of one account entry in the config file,
// tagged by "protocol" the way spec.md §6 describes. Its fields are a
// superset across all four protocols; only the ones relevant to Protocol
// are expected to be populated.
type rawAccount struct {
	Protocol       model.Protocol `json:"protocol"`
	Origin         string         `json:"origin"`         // instance/PDS base URL, e.g. "https://mastodon.social"
	Identifier     string         `json:"identifier"`     // handle, username, or account ID
	AppPassword    string         `json:"appPassword,omitempty"`
	AccessToken    string         `json:"accessToken,omitempty"`
	APIKey         string         `json:"apiKey,omitempty"`
	APISecret      string         `json:"apiSecret,omitempty"`
	OAuthToken     string         `json:"oauthToken,omitempty"`
	OAuthSecret    string         `json:"oauthSecret,omitempty"`
	ShowSourceLink bool           `json:"showSourceLink,omitempty"`
}

type rawUser struct {
	Src  rawAccount   `json:"src"`
	Dsts []rawAccount `json:"dsts"`
}

type rawConfig struct {
	Users []rawUser `json:"users"`
}

// LoadUsers reads the list of source/destination account pairings from
// the JSON file at path (default "config.json", overridable via the
// TIMELINEECHO_CONFIG env var).
func LoadUsers(path string) ([]model.User, error) {
	if path == "" {
		path = getEnv("TIMELINEECHO_CONFIG", "config.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(raw.Users) == 0 {
		return nil, fmt.Errorf("config %s: no users configured", path)
	}

	users := make([]model.User, 0, len(raw.Users))
	for _, ru := range raw.Users {
		u := model.User{
			Src:         toSourceAccount(ru.Src),
			DstStatuses: map[string][]model.DestinationStatus{},
		}
		for _, rd := range ru.Dsts {
			u.Dsts = append(u.Dsts, toDestinationAccount(rd))
		}
		if len(u.Dsts) == 0 {
			return nil, fmt.Errorf("config %s: user %s has no destinations", path, ru.Src.Identifier)
		}
		users = append(users, u)
	}
	return users, nil
}

func toSourceAccount(r rawAccount) model.SourceAccount {
	return model.SourceAccount{
		AccountKey:  model.AccountKey{Origin: r.Protocol, Identifier: accountIdentifier(r)},
		AppPassword: r.AppPassword,
		AccessToken: r.AccessToken,
		APIKey:      r.APIKey,
		APISecret:   r.APISecret,
		OAuthToken:  r.OAuthToken,
		OAuthSecret: r.OAuthSecret,
	}
}

func toDestinationAccount(r rawAccount) model.DestinationAccount {
	return model.DestinationAccount{
		AccountKey:     model.AccountKey{Origin: r.Protocol, Identifier: accountIdentifier(r)},
		AppPassword:    r.AppPassword,
		AccessToken:    r.AccessToken,
		APIKey:         r.APIKey,
		APISecret:      r.APISecret,
		OAuthToken:     r.OAuthToken,
		OAuthSecret:    r.OAuthSecret,
		ShowSourceLink: r.ShowSourceLink,
	}
}

// accountIdentifier folds origin+identifier into the single opaque
// identifier string an AccountKey carries; adapters parse it back apart
// as needed (e.g. Mastodon/Misskey split it into instance base URL and
// handle).
func accountIdentifier(r rawAccount) string {
	if r.Origin == "" {
		return r.Identifier
	}
	return r.Origin + "|" + r.Identifier
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}
