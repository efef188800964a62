package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const defaultReplayLimit = 100

type replayer interface {
	ReplayFailed(ctx context.Context, ids []uuid.UUID, limit int) (int64, error)
}

type replayRequest struct {
	IDs   []uuid.UUID
	All   bool
	Limit int
}

// parseRequest turns the command line flags into a replay request. Exactly
// one of -ids and -all must be given.
func parseRequest(rawIDs string, all bool, limit int) (replayRequest, error) {
	rawIDs = strings.TrimSpace(rawIDs)
	switch {
	case rawIDs == "" && !all:
		return replayRequest{}, errors.New("either -ids or -all is required")
	case rawIDs != "" && all:
		return replayRequest{}, errors.New("-ids and -all are mutually exclusive")
	}

	if all {
		if limit <= 0 {
			limit = defaultReplayLimit
		}
		return replayRequest{All: true, Limit: limit}, nil
	}

	var ids []uuid.UUID
	seen := map[uuid.UUID]struct{}{}
	for _, part := range strings.Split(rawIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return replayRequest{}, fmt.Errorf("invalid outbox id %q: %w", part, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return replayRequest{}, errors.New("no outbox ids given")
	}
	return replayRequest{IDs: ids}, nil
}

func replay(ctx context.Context, repo replayer, req replayRequest) (int64, error) {
	if req.All {
		return repo.ReplayFailed(ctx, nil, req.Limit)
	}
	return repo.ReplayFailed(ctx, req.IDs, 0)
}
