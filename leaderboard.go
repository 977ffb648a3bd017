package main

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// winsKey is the redis sorted set holding all-time win counts by display name.
const winsKey = "smekhlyst:leaderboard:wins"

// Leaderboard keeps an all-time tally of game wins in redis. It is an
// additive side channel: game state itself never touches redis, and the
// server runs without a leaderboard when no redis address is configured.
type Leaderboard struct {
	redis *redis.Client
}

func newLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{redis: client}
}

// LeaderboardEntry is one row of the win leaderboard.
type LeaderboardEntry struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
	Wins int    `json:"wins"`
}

// RecordWin bumps the win count for a display name.
func (lb *Leaderboard) RecordWin(ctx context.Context, name string) error {
	return lb.redis.ZIncrBy(ctx, winsKey, 1, name).Err()
}

// Top returns the n highest win counts, best first.
func (lb *Leaderboard) Top(ctx context.Context, n int64) ([]LeaderboardEntry, error) {
	members, err := lb.redis.ZRevRangeWithScores(ctx, winsKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(members))
	for i, member := range members {
		name, _ := member.Member.(string)
		entries = append(entries, LeaderboardEntry{
			Rank: i + 1,
			Name: name,
			Wins: int(member.Score),
		})
	}

	return entries, nil
}
