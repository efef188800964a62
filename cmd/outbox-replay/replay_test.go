package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeReplayer struct {
	ids   []uuid.UUID
	limit int
	calls int
}

func (f *fakeReplayer) ReplayFailed(_ context.Context, ids []uuid.UUID, limit int) (int64, error) {
	f.calls++
	f.ids = ids
	f.limit = limit
	if len(ids) > 0 {
		return int64(len(ids)), nil
	}
	return int64(limit), nil
}

func TestParseRequestRequiresOneMode(t *testing.T) {
	_, err := parseRequest("", false, 10)
	require.Error(t, err)

	_, err = parseRequest(uuid.NewString(), true, 10)
	require.Error(t, err)

	_, err = parseRequest(" , ", false, 0)
	require.Error(t, err)

	_, err = parseRequest("not-a-uuid", false, 0)
	require.ErrorContains(t, err, "not-a-uuid")
}

func TestParseRequestDeduplicatesIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	req, err := parseRequest(a.String()+", "+b.String()+","+a.String(), false, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a, b}, req.IDs)
	require.False(t, req.All)
}

func TestParseRequestAllDefaultsLimit(t *testing.T) {
	req, err := parseRequest("", true, 0)
	require.NoError(t, err)
	require.True(t, req.All)
	require.Equal(t, defaultReplayLimit, req.Limit)
}

func TestReplayPassesModeToRepository(t *testing.T) {
	repo := &fakeReplayer{}
	id := uuid.New()

	n, err := replay(context.Background(), repo, replayRequest{IDs: []uuid.UUID{id}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, []uuid.UUID{id}, repo.ids)
	require.Zero(t, repo.limit)

	n, err = replay(context.Background(), repo, replayRequest{All: true, Limit: 25})
	require.NoError(t, err)
	require.EqualValues(t, 25, n)
	require.Nil(t, repo.ids)
	require.Equal(t, 25, repo.limit)
	require.Equal(t, 2, repo.calls)
}
