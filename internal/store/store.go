// Package store is the durable, per-account source of truth for profile
// records, workflow state and campaign run counters. One database per
// account handle; nothing here reads across accounts.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eracle/linkreach/internal/models"
)

// StoreError reports a persistence fault. Callers must treat it as fatal
// for the whole run; partial writes never happen (every multi-field write
// is a single statement or a transaction).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

var errAbsent = errors.New("profile not found")

func fail(op string, err error) error { return &StoreError{Op: op, Err: err} }

type Store struct{ db *sql.DB }

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fail("open", err)
	}
	// One writer connection: concurrent callers serialize here instead of
	// racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS profiles (
	url TEXT PRIMARY KEY,
	structured TEXT,
	raw TEXT,
	state TEXT NOT NULL DEFAULT 'discovered',
	fail_reason TEXT NOT NULL DEFAULT '',
	retries INTEGER NOT NULL DEFAULT 0,
	cloud_synced INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS campaign_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	handle TEXT NOT NULL,
	input_hash TEXT NOT NULL,
	short_id TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	total_profiles INTEGER NOT NULL DEFAULT 0,
	enriched INTEGER NOT NULL DEFAULT 0,
	connect_sent INTEGER NOT NULL DEFAULT 0,
	accepted INTEGER NOT NULL DEFAULT 0,
	followup_sent INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	last_updated DATETIME NOT NULL,
	UNIQUE(name, handle, input_hash)
);
`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fail("migrate", err)
	}
	return nil
}

// GetProfile returns the stored record for url, or (nil, nil) when the
// url has never been discovered.
func (s *Store) GetProfile(ctx context.Context, url string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT url, structured, raw, state, fail_reason, retries, cloud_synced, created_at, updated_at FROM profiles WHERE url = ?`, url)
	var p models.Profile
	var structured, raw sql.NullString
	err := row.Scan(&p.URL, &structured, &raw, &p.State, &p.FailReason, &p.Retries, &p.CloudSynced, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fail("get profile", err)
	}
	if structured.Valid && structured.String != "" {
		var rp models.ResolvedProfile
		if err := json.Unmarshal([]byte(structured.String), &rp); err != nil {
			return nil, fail("decode structured", err)
		}
		p.Structured = &rp
	}
	if raw.Valid {
		p.Raw = json.RawMessage(raw.String)
	}
	return &p, nil
}

// EnsureProfile inserts url as a discovered profile if it is not already
// known. Existing rows are left untouched.
func (s *Store) EnsureProfile(ctx context.Context, url string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (url, state, created_at, updated_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(url) DO NOTHING`,
		url, models.StateDiscovered, now, now)
	if err != nil {
		return fail("ensure profile", err)
	}
	return nil
}

// UpsertProfile replaces both the structured record and the raw snapshot
// in one statement. The pair is always written together; re-enrichment
// never merges into older data.
func (s *Store) UpsertProfile(ctx context.Context, url string, structured *models.ResolvedProfile, raw json.RawMessage) error {
	blob, err := json.Marshal(structured)
	if err != nil {
		return fail("encode structured", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO profiles (url, structured, raw, state, cloud_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
		structured=excluded.structured,
		raw=excluded.raw,
		cloud_synced=0,
		updated_at=excluded.updated_at`,
		url, string(blob), string(raw), models.StateDiscovered, now, now)
	if err != nil {
		return fail("upsert profile", err)
	}
	return nil
}

// SetState moves an already-discovered profile to state. Unknown urls are
// a store fault: state only exists on stored profiles.
func (s *Store) SetState(ctx context.Context, url string, state models.ProfileState) error {
	if !state.Valid() {
		return fail("set state", fmt.Errorf("invalid state %q", state))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET state = ?, updated_at = ? WHERE url = ?`,
		state, time.Now().UTC(), url)
	if err != nil {
		return fail("set state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fail("set state", fmt.Errorf("%w: %s", errAbsent, url))
	}
	return nil
}

// SetFailure marks the profile failed and retains the cause for audit.
func (s *Store) SetFailure(ctx context.Context, url, cause string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET state = ?, fail_reason = ?, updated_at = ? WHERE url = ?`,
		models.StateFailed, cause, time.Now().UTC(), url)
	if err != nil {
		return fail("set failure", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fail("set failure", fmt.Errorf("%w: %s", errAbsent, url))
	}
	return nil
}

func (s *Store) IncrementRetries(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET retries = retries + 1, updated_at = ? WHERE url = ?`,
		time.Now().UTC(), url)
	if err != nil {
		return fail("increment retries", err)
	}
	return nil
}

// CountByState returns how many profiles sit in each workflow state.
func (s *Store) CountByState(ctx context.Context) (map[models.ProfileState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM profiles GROUP BY state`)
	if err != nil {
		return nil, fail("count by state", err)
	}
	defer rows.Close()
	out := map[models.ProfileState]int{}
	for rows.Next() {
		var st models.ProfileState
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fail("count by state", err)
		}
		out[st] = n
	}
	return out, rows.Err()
}

// UnsyncedProfiles lists enriched profiles that have not been pushed to
// the cloud backend yet.
func (s *Store) UnsyncedProfiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM profiles WHERE cloud_synced = 0 AND raw IS NOT NULL ORDER BY url`)
	if err != nil {
		return nil, fail("unsynced profiles", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fail("unsynced profiles", err)
		}
		out = append(out, url)
	}
	return out, rows.Err()
}

func (s *Store) MarkCloudSynced(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET cloud_synced = 1, updated_at = ? WHERE url = ?`,
		time.Now().UTC(), url)
	if err != nil {
		return fail("mark cloud synced", err)
	}
	return nil
}

// shortRunID derives the stable human-readable id for a run key.
func shortRunID(key models.RunKey) string {
	sum := sha256.Sum256([]byte(key.Campaign + "|" + key.Handle + "|" + key.InputHash))
	return hex.EncodeToString(sum[:])[:8]
}

// EnsureCampaignRun creates the run record for key if it does not exist
// and returns its short id. Idempotent: re-running an unchanged input set
// resumes the same run.
func (s *Store) EnsureCampaignRun(ctx context.Context, key models.RunKey, totalProfiles int) (string, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaign_runs (name, handle, input_hash, short_id, started_at, total_profiles, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, handle, input_hash) DO NOTHING`,
		key.Campaign, key.Handle, key.InputHash, shortRunID(key), now, totalProfiles, now)
	if err != nil {
		return "", fail("ensure campaign run", err)
	}
	var shortID string
	row := s.db.QueryRowContext(ctx, `SELECT short_id FROM campaign_runs WHERE name = ? AND handle = ? AND input_hash = ?`,
		key.Campaign, key.Handle, key.InputHash)
	if err := row.Scan(&shortID); err != nil {
		return "", fail("ensure campaign run", err)
	}
	return shortID, nil
}

var counterColumns = map[models.RunCounter]string{
	models.CounterEnriched:     "enriched",
	models.CounterConnectSent:  "connect_sent",
	models.CounterAccepted:     "accepted",
	models.CounterFollowupSent: "followup_sent",
	models.CounterCompleted:    "completed",
}

// AdvanceProfile commits a workflow transition together with the run
// counters it reaches, in one transaction: an interrupt can never record
// the state change without its counters or vice versa. Retries reset on
// every successful advance.
func (s *Store) AdvanceProfile(ctx context.Context, key models.RunKey, url string, state models.ProfileState, counters ...models.RunCounter) error {
	if !state.Valid() {
		return fail("advance profile", fmt.Errorf("invalid state %q", state))
	}
	cols := make([]string, 0, len(counters))
	for _, c := range counters {
		col, ok := counterColumns[c]
		if !ok {
			return fail("advance profile", fmt.Errorf("unknown counter %q", c))
		}
		cols = append(cols, col)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("advance profile", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	r, err := tx.ExecContext(ctx, `UPDATE profiles SET state = ?, retries = 0, updated_at = ? WHERE url = ?`,
		state, now, url)
	if err != nil {
		return fail("advance profile", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fail("advance profile", fmt.Errorf("%w: %s", errAbsent, url))
	}
	for _, col := range cols {
		r, err := tx.ExecContext(ctx,
			`UPDATE campaign_runs SET `+col+` = `+col+` + 1, last_updated = ? WHERE name = ? AND handle = ? AND input_hash = ?`,
			now, key.Campaign, key.Handle, key.InputHash)
		if err != nil {
			return fail("advance profile", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return fail("advance profile", fmt.Errorf("no campaign run for %s/%s/%s", key.Campaign, key.Handle, key.InputHash))
		}
	}
	if err := tx.Commit(); err != nil {
		return fail("advance profile", err)
	}
	return nil
}

func (s *Store) GetCampaignRun(ctx context.Context, key models.RunKey) (*models.CampaignRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT short_id, started_at, total_profiles, enriched, connect_sent, accepted, followup_sent, completed, last_updated
		FROM campaign_runs WHERE name = ? AND handle = ? AND input_hash = ?`,
		key.Campaign, key.Handle, key.InputHash)
	run := models.CampaignRun{Key: key}
	err := row.Scan(&run.ShortID, &run.StartedAt, &run.TotalProfiles, &run.Enriched,
		&run.ConnectSent, &run.Accepted, &run.FollowupSent, &run.Completed, &run.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fail("get campaign run", err)
	}
	return &run, nil
}
