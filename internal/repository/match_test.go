package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coop-match/internal/models"
)

func newTestMatch(matchID string) *models.Match {
	return &models.Match{
		MatchID:   matchID,
		Status:    "waiting",
		Seq:       0,
		State:     `{"matchId":"` + matchID + `"}`,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestMatchRepository_CreateAndFind(t *testing.T) {
	db := TestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	match := newTestMatch("m-create-1")
	err := repo.Create(ctx, match)
	require.NoError(t, err)
	assert.NotZero(t, match.ID)

	found, err := repo.FindByMatchID(ctx, "m-create-1")
	require.NoError(t, err)
	assert.Equal(t, "m-create-1", found.MatchID)
	assert.Equal(t, "waiting", found.Status)
	assert.Equal(t, int64(0), found.Seq)
}

func TestMatchRepository_FindMissing(t *testing.T) {
	db := TestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	_, err := repo.FindByMatchID(ctx, "no-such-match")
	assert.Error(t, err)
}

func TestMatchRepository_DuplicateMatchID(t *testing.T) {
	db := TestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestMatch("m-dup")))
	err := repo.Create(ctx, newTestMatch("m-dup"))
	assert.Error(t, err)
}

func TestMatchRepository_Update(t *testing.T) {
	db := TestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	match := newTestMatch("m-update")
	require.NoError(t, repo.Create(ctx, match))

	match.Status = "playing"
	match.Seq = 2
	match.State = `{"matchId":"m-update","coins":150}`
	require.NoError(t, repo.Update(ctx, match))

	found, err := repo.FindByMatchID(ctx, "m-update")
	require.NoError(t, err)
	assert.Equal(t, "playing", found.Status)
	assert.Equal(t, int64(2), found.Seq)
	assert.Contains(t, found.State, "150")
}

func TestMatchRepository_TouchExpiry(t *testing.T) {
	db := TestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	match := newTestMatch("m-touch")
	match.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, repo.Create(ctx, match))

	newExpiry := time.Now().Add(48 * time.Hour)
	require.NoError(t, repo.TouchExpiry(ctx, "m-touch", newExpiry))

	found, err := repo.FindByMatchID(ctx, "m-touch")
	require.NoError(t, err)
	assert.WithinDuration(t, newExpiry, found.ExpiresAt, time.Second)
}

func TestMatchRepository_CleanupExpired(t *testing.T) {
	db := TestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	expired := newTestMatch("m-expired")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, expired))

	alive := newTestMatch("m-alive")
	require.NoError(t, repo.Create(ctx, alive))

	deleted, err := repo.CleanupExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByMatchID(ctx, "m-expired")
	assert.Error(t, err)

	_, err = repo.FindByMatchID(ctx, "m-alive")
	assert.NoError(t, err)
}
