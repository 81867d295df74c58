package model

import "time"

// ScoreEvent is one point-granting record. Rows are append-only.
type ScoreEvent struct {
	ID        int64
	UserID    int64
	Points    int
	Timestamp time.Time
}

// LeaderboardEntry is a user with the sum of all their points.
type LeaderboardEntry struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Total      int64
}

func (e LeaderboardEntry) DisplayName() string {
	return DisplayName(e.TelegramID, e.Username, e.FirstName, e.LastName)
}

// DailyPoints is the sum of a user's points on one UTC calendar date.
type DailyPoints struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Date       time.Time
	Points     int64
}

func (d DailyPoints) DisplayName() string {
	return DisplayName(d.TelegramID, d.Username, d.FirstName, d.LastName)
}
