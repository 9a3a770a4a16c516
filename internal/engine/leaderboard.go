package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"boarcore.com/internal/queue"
	"boarcore.com/pkg/logger"
)

const leaderboardKey = "leaderboard"

// Standing is one row of the score leaderboard.
type Standing struct {
	User  string `json:"user"`
	Score int64  `json:"score"`
}

// board is the persisted leaderboard: best score first, ties by user id.
type board struct {
	Entries []Standing `json:"entries"`
}

// upsert records s, keeping at most size rows. Scores only grow, so a lower
// score than the one held is ignored. It reports whether the board changed.
func (b *board) upsert(s Standing, size int) bool {
	found := false
	for i := range b.Entries {
		if b.Entries[i].User != s.User {
			continue
		}
		if s.Score <= b.Entries[i].Score {
			return false
		}
		b.Entries[i].Score = s.Score
		found = true
		break
	}
	if !found {
		if n := len(b.Entries); n >= size && s.Score <= b.Entries[n-1].Score {
			return false
		}
		b.Entries = append(b.Entries, s)
	}
	sort.Slice(b.Entries, func(i, j int) bool {
		if b.Entries[i].Score != b.Entries[j].Score {
			return b.Entries[i].Score > b.Entries[j].Score
		}
		return b.Entries[i].User < b.Entries[j].User
	})
	if len(b.Entries) > size {
		b.Entries = b.Entries[:size]
	}
	return true
}

// rank folds user's new score into the leaderboard on the global lane. The
// board is derived data: a failure is logged, the user's change stands.
func (e *Engine) rank(ctx context.Context, user string, score int64) {
	if score <= 0 {
		return
	}
	err := e.q.Submit(ctx, e.q.GlobalKey(leaderboardKey), queue.NewTaskID(), func(ctx context.Context) error {
		var b board
		if _, err := e.store.Load(ctx, leaderboardKey, &b); err != nil {
			return err
		}
		if !b.upsert(Standing{User: user, Score: score}, e.cfg.LeaderboardSize) {
			return nil
		}
		return e.store.Save(ctx, leaderboardKey, &b)
	})
	if err != nil {
		logger.Warn(ctx, "leaderboard update failed", zap.String("user", user), zap.Int64("score", score), zap.Error(err))
	}
}

// Leaderboard returns the top n standings, or all kept ones when n <= 0.
// It reads on the global lane, so it sees every update queued before it.
func (e *Engine) Leaderboard(ctx context.Context, n int) ([]Standing, error) {
	var out []Standing
	err := e.q.Submit(ctx, e.q.GlobalKey(leaderboardKey), queue.NewTaskID(), func(ctx context.Context) error {
		var b board
		if _, err := e.store.Load(ctx, leaderboardKey, &b); err != nil {
			return err
		}
		out = b.Entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	if out == nil {
		out = []Standing{}
	}
	return out, nil
}
