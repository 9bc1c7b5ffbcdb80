package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDatabase(context.Background(), filepath.Join(t.TempDir(), "physique.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestProfileStore(t *testing.T) (*SQLProfileStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewSQLProfileStore(openTestDB(t))
	store.now = clock.Now
	return store, clock
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, migrate(context.Background(), db))
	require.NoError(t, migrate(context.Background(), db))
}

func TestGetProfileAbsent(t *testing.T) {
	store, _ := newTestProfileStore(t)

	p, err := store.GetProfile(context.Background(), snowflake.ID(1))
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreateProfileStartsUnset(t *testing.T) {
	store, clock := newTestProfileStore(t)
	ctx := context.Background()
	user := snowflake.ID(123456789012345678)

	require.NoError(t, store.CreateProfile(ctx, user, "lea"))
	require.NoError(t, store.CreateProfile(ctx, user, "renamed"), "creating twice is a no-op")

	p, err := store.GetProfile(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, user, p.UserID)
	assert.Equal(t, "lea", p.Username)
	assert.Equal(t, ConsentUnset, p.Consent)
	assert.True(t, p.Data.IsEmpty())
	assert.WithinDuration(t, clock.Now(), p.UpdatedAt, time.Second)

	n, err := store.CountProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetConsentTriState(t *testing.T) {
	store, _ := newTestProfileStore(t)
	ctx := context.Background()
	user := snowflake.ID(2)
	require.NoError(t, store.CreateProfile(ctx, user, "max"))

	require.NoError(t, store.SetConsent(ctx, user, false))
	p, err := store.GetProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, ConsentDenied, p.Consent)

	require.NoError(t, store.SetConsent(ctx, user, true))
	p, err = store.GetProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, ConsentGranted, p.Consent)
}

func TestMergeAndPersistKeepsStoredValues(t *testing.T) {
	store, clock := newTestProfileStore(t)
	ctx := context.Background()
	user := snowflake.ID(3)
	require.NoError(t, store.CreateProfile(ctx, user, "sam"))

	require.NoError(t, store.MergeAndPersist(ctx, user, fullPhysiqueData()))

	clock.Advance(48 * time.Hour)
	require.NoError(t, store.MergeAndPersist(ctx, user, PhysiqueData{Weight: floatPtr(82.5), Intensity: ptrTo(IntensityHigh)}))

	p, err := store.GetProfile(ctx, user)
	require.NoError(t, err)

	want := fullPhysiqueData()
	want.Weight = floatPtr(82.5)
	want.Intensity = ptrTo(IntensityHigh)
	assert.Equal(t, want, p.Data)
	assert.WithinDuration(t, clock.Now(), p.UpdatedAt, time.Second)
}

func TestMergeAndPersistEmptyRefreshesTimestamp(t *testing.T) {
	store, clock := newTestProfileStore(t)
	ctx := context.Background()
	user := snowflake.ID(4)
	require.NoError(t, store.CreateProfile(ctx, user, "kim"))

	clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, store.MergeAndPersist(ctx, user, PhysiqueData{}))

	p, err := store.GetProfile(ctx, user)
	require.NoError(t, err)
	assert.True(t, p.Data.IsEmpty())
	assert.WithinDuration(t, clock.Now(), p.UpdatedAt, time.Second)
}

func TestBotConfigRoundTrip(t *testing.T) {
	prev := DB
	DB = openTestDB(t)
	t.Cleanup(func() { DB = prev })
	ctx := context.Background()

	v, err := GetBotConfig(ctx, "last_cmd_hash")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "abc"))
	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "def"))

	v, err = GetBotConfig(ctx, "last_cmd_hash")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}

func TestLoadConfigDurations(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("GUILD_ID", "")
	t.Setenv("PENDING_TTL", "0")
	t.Setenv("PROFILE_STALE_AFTER", "7d")
	t.Setenv("COMMAND_RATE", "2s")
	t.Setenv("COMMAND_BURST", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.PendingTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.ProfileStaleAfter)
	assert.Equal(t, 2*time.Second, cfg.CommandInterval)
	assert.Equal(t, 5, cfg.CommandBurst)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("GUILD_ID", "")
	t.Setenv("PENDING_TTL", "soon")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "PENDING_TTL")

	t.Setenv("PENDING_TTL", "")
	t.Setenv("COMMAND_BURST", "-1")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "COMMAND_BURST")
}

func TestConfigIsOwner(t *testing.T) {
	open := &Config{}
	assert.True(t, open.IsOwner(1))

	cfg := &Config{OwnerIDs: []string{"111", "222"}}
	assert.True(t, cfg.IsOwner(222))
	assert.False(t, cfg.IsOwner(333))
}
