package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eracle/linkreach/internal/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(st.Close)
	return st, path
}

const aliceURL = "https://www.linkedin.com/in/alice"

func TestGetProfileAbsent(t *testing.T) {
	st, _ := openTestStore(t)
	p, err := st.GetProfile(context.Background(), aliceURL)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestEnsureProfileIdempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)

	require.NoError(t, st.EnsureProfile(ctx, aliceURL))
	p, err := st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.StateDiscovered, p.State)
	created := p.CreatedAt

	// Second ensure must not reset anything.
	require.NoError(t, st.SetState(ctx, aliceURL, models.StateEnriched))
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))
	p, err = st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnriched, p.State)
	assert.Equal(t, created, p.CreatedAt)
}

func TestUpsertReplacesStructuredAndRawTogether(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)

	first := &models.ResolvedProfile{FullName: "Alice One", Headline: "Old"}
	require.NoError(t, st.UpsertProfile(ctx, aliceURL, first, json.RawMessage(`{"v":1}`)))

	second := &models.ResolvedProfile{FullName: "Alice Two"}
	require.NoError(t, st.UpsertProfile(ctx, aliceURL, second, json.RawMessage(`{"v":2}`)))

	p, err := st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	require.NotNil(t, p.Structured)
	assert.Equal(t, "Alice Two", p.Structured.FullName)
	assert.Empty(t, p.Structured.Headline, "re-enrichment must replace, not merge")
	assert.JSONEq(t, `{"v":2}`, string(p.Raw))
	assert.False(t, p.CloudSynced)
}

func TestSetStateOnAbsentProfile(t *testing.T) {
	st, _ := openTestStore(t)
	err := st.SetState(context.Background(), "https://www.linkedin.com/in/ghost", models.StateEnriched)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
}

func TestSetStateRejectsUnknownState(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))
	err := st.SetState(ctx, aliceURL, models.ProfileState("weird"))
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
}

func TestSetFailureRetainsCause(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))
	require.NoError(t, st.SetFailure(ctx, aliceURL, "profile removed"))

	p, err := st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, p.State)
	assert.Equal(t, "profile removed", p.FailReason)
}

func TestRetriesAccumulate(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))

	require.NoError(t, st.IncrementRetries(ctx, aliceURL))
	require.NoError(t, st.IncrementRetries(ctx, aliceURL))
	p, err := st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Retries)
}

func TestProfileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	st, path := openTestStore(t)

	structured := &models.ResolvedProfile{
		FullName:  "Alice Nguyen",
		Headline:  "Staff Engineer",
		Positions: []models.Position{{Title: "Staff Engineer", CompanyName: "Acme"}},
		Skills:    []string{"Go"},
	}
	require.NoError(t, st.UpsertProfile(ctx, aliceURL, structured, json.RawMessage(`{"included":[]}`)))
	require.NoError(t, st.SetState(ctx, aliceURL, models.StateConnectionRequested))
	st.Close()

	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()

	p, err := st2.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.StateConnectionRequested, p.State)
	assert.Equal(t, "Alice Nguyen", p.Structured.FullName)
	assert.Equal(t, []string{"Go"}, p.Structured.Skills)
	assert.JSONEq(t, `{"included":[]}`, string(p.Raw))
}

func TestEnsureCampaignRunIdempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	key := models.RunKey{Campaign: "connect_follow_up", Handle: "default", InputHash: "abc123"}

	id1, err := st.EnsureCampaignRun(ctx, key, 3)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	// Resuming the same input set keeps the same run.
	id2, err := st.EnsureCampaignRun(ctx, key, 3)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// A different hash is a different run.
	other := key
	other.InputHash = "def456"
	id3, err := st.EnsureCampaignRun(ctx, other, 5)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	run, err := st.GetCampaignRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, run.TotalProfiles)
}

func TestRunCountersMonotonic(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	key := models.RunKey{Campaign: "c", Handle: "h", InputHash: "x"}
	_, err := st.EnsureCampaignRun(ctx, key, 2)
	require.NoError(t, err)

	require.NoError(t, st.EnsureProfile(ctx, aliceURL))
	prev := 0
	for i := 0; i < 4; i++ {
		require.NoError(t, st.AdvanceProfile(ctx, key, aliceURL, models.StateEnriched, models.CounterEnriched))
		run, err := st.GetCampaignRun(ctx, key)
		require.NoError(t, err)
		assert.Greater(t, run.Enriched, prev)
		prev = run.Enriched
	}
	run, err := st.GetCampaignRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, run.Enriched)
	assert.Equal(t, 0, run.ConnectSent)
}

func TestAdvanceProfileCommitsStateAndCountersTogether(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	key := models.RunKey{Campaign: "c", Handle: "h", InputHash: "x"}
	_, err := st.EnsureCampaignRun(ctx, key, 1)
	require.NoError(t, err)
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))
	require.NoError(t, st.IncrementRetries(ctx, aliceURL))

	require.NoError(t, st.AdvanceProfile(ctx, key, aliceURL, models.StateCompleted,
		models.CounterFollowupSent, models.CounterCompleted))

	p, err := st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, p.State)
	assert.Equal(t, 0, p.Retries, "a successful advance clears the retry count")

	run, err := st.GetCampaignRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, run.FollowupSent)
	assert.Equal(t, 1, run.Completed)
}

func TestAdvanceProfileRollsBackWhenRunMissing(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))

	key := models.RunKey{Campaign: "c", Handle: "h", InputHash: "missing"}
	err := st.AdvanceProfile(ctx, key, aliceURL, models.StateEnriched, models.CounterEnriched)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)

	// The state write rolls back with the counter failure.
	p, err := st.GetProfile(ctx, aliceURL)
	require.NoError(t, err)
	assert.Equal(t, models.StateDiscovered, p.State)
}

func TestAdvanceProfileRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	key := models.RunKey{Campaign: "c", Handle: "h", InputHash: "x"}
	_, err := st.EnsureCampaignRun(ctx, key, 1)
	require.NoError(t, err)
	require.NoError(t, st.EnsureProfile(ctx, aliceURL))

	var storeErr *StoreError
	err = st.AdvanceProfile(ctx, key, aliceURL, models.ProfileState("weird"))
	require.ErrorAs(t, err, &storeErr)
	err = st.AdvanceProfile(ctx, key, aliceURL, models.StateEnriched, models.RunCounter("drop table"))
	require.ErrorAs(t, err, &storeErr)
	err = st.AdvanceProfile(ctx, key, "https://www.linkedin.com/in/ghost", models.StateEnriched)
	require.ErrorAs(t, err, &storeErr)
}

func TestCloudSyncFlag(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	require.NoError(t, st.UpsertProfile(ctx, aliceURL, &models.ResolvedProfile{FullName: "Alice"}, json.RawMessage(`{}`)))

	unsynced, err := st.UnsyncedProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{aliceURL}, unsynced)

	require.NoError(t, st.MarkCloudSynced(ctx, aliceURL))
	unsynced, err = st.UnsyncedProfiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	// Re-enrichment queues the profile for sync again.
	require.NoError(t, st.UpsertProfile(ctx, aliceURL, &models.ResolvedProfile{FullName: "Alice"}, json.RawMessage(`{}`)))
	unsynced, err = st.UnsyncedProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, unsynced, 1)
}

func TestCountByState(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	require.NoError(t, st.EnsureProfile(ctx, "https://a"))
	require.NoError(t, st.EnsureProfile(ctx, "https://b"))
	require.NoError(t, st.SetState(ctx, "https://b", models.StateCompleted))

	counts, err := st.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StateDiscovered])
	assert.Equal(t, 1, counts[models.StateCompleted])
}
