package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/matrimony/backend/logger"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

func TestRetentionJob(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	st := newMemStore()
	require.NoError(t, st.SaveMatchRecords(t.Context(), []model.MatchRecord{
		{UserID: 1, MatchedUserID: 2, MatchPercentage: 50, CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{UserID: 1, MatchedUserID: 3, MatchPercentage: 75, CreatedAt: now.Add(-31 * 24 * time.Hour)},
		{UserID: 1, MatchedUserID: 4, MatchPercentage: 100, CreatedAt: now.Add(-time.Hour)},
	}))

	job := newRetentionJob(st, 30*24*time.Hour, "@daily", logger.Nop())
	assert.Equal(t, int64(2), job.run(t.Context(), now))

	left, err := st.MatchHistory(t.Context(), 1, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 4, left[0].MatchedUserID)

	assert.Zero(t, job.run(t.Context(), now), "second pass has nothing to do")

	t.Run("Start And Stop", func(t *testing.T) {
		require.NoError(t, job.Start(t.Context()))
		job.Stop()
	})

	t.Run("Bad Schedule", func(t *testing.T) {
		bad := newRetentionJob(st, time.Hour, "every tuesday", logger.Nop())
		assert.Error(t, bad.Start(t.Context()))
	})
}
