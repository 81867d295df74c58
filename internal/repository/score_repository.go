package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"points-bot/internal/model"
)

const totalScoreSQL = `
SELECT COALESCE(SUM(s.points), 0)
FROM scores s
JOIN users u ON u.id = s.user_id
WHERE u.telegram_id = ?`

const topUsersSQL = `
SELECT u.telegram_id,
	COALESCE(u.username, '') AS username,
	COALESCE(u.first_name, '') AS first_name,
	COALESCE(u.last_name, '') AS last_name,
	t.total
FROM users u
JOIN (
	SELECT user_id, SUM(points) AS total
	FROM scores
	GROUP BY user_id
) t ON t.user_id = u.id
ORDER BY t.total DESC, u.telegram_id ASC
LIMIT ?`

// %[1]s is the dialect's day expression.
const timeSeriesSQL = `
SELECT u.telegram_id,
	COALESCE(u.username, '') AS username,
	COALESCE(u.first_name, '') AS first_name,
	COALESCE(u.last_name, '') AS last_name,
	%[1]s AS day,
	SUM(s.points) AS points
FROM users u
JOIN scores s ON s.user_id = u.id
GROUP BY u.telegram_id, u.username, u.first_name, u.last_name, %[1]s
ORDER BY u.telegram_id ASC, day ASC`

const dayLayout = "2006-01-02"

// scoreRow maps the scores table for inserts.
type scoreRow struct {
	ID        int64 `gorm:"primaryKey"`
	UserID    int64
	Points    int
	Timestamp time.Time
}

func (scoreRow) TableName() string { return "scores" }

type leaderboardRow struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Total      int64
}

type dailyRow struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Day        string
	Points     int64
}

// AddScore records points for the user. It returns nil without writing anything
// when the user has never been upserted.
func (s *Session) AddScore(ctx context.Context, telegramID int64, points int) (*model.ScoreEvent, error) {
	if points <= 0 {
		return nil, fmt.Errorf("add score %d: %w", points, ErrInvalidPoints)
	}

	var event *model.ScoreEvent
	err := s.tx(ctx, func(tx *gorm.DB) error {
		user, err := findUser(tx, telegramID)
		switch {
		case errors.Is(err, errUserNotFound):
			return nil
		case err != nil:
			return err
		}

		row := scoreRow{UserID: user.ID, Points: points, Timestamp: s.timestamp()}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert score: %w", err)
		}
		event = &model.ScoreEvent{
			ID:        row.ID,
			UserID:    row.UserID,
			Points:    row.Points,
			Timestamp: row.Timestamp,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// TotalScore sums the user's points in the database. Unknown users have 0.
func (s *Session) TotalScore(ctx context.Context, telegramID int64) (int64, error) {
	var total int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Raw(totalScoreSQL, telegramID).Scan(&total).Error; err != nil {
			return fmt.Errorf("total score: %w", err)
		}
		return nil
	})
	return total, err
}

// TopUsers returns at most limit users that have points, best first.
// Order among equal totals is not part of the contract.
func (s *Session) TopUsers(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []leaderboardRow
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Raw(topUsersSQL, limit).Scan(&rows).Error; err != nil {
			return fmt.Errorf("top users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, model.LeaderboardEntry{
			TelegramID: r.TelegramID,
			Username:   r.Username,
			FirstName:  r.FirstName,
			LastName:   r.LastName,
			Total:      r.Total,
		})
	}
	return entries, nil
}

// ClearAllScores deletes every score event of every user and reports how many
// rows were removed. Callers are responsible for authorization.
func (s *Session) ClearAllScores(ctx context.Context) (int64, error) {
	var removed int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		res := tx.Exec("DELETE FROM scores")
		if res.Error != nil {
			return fmt.Errorf("clear scores: %w", res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	return removed, err
}

// ScoreTimeSeries returns per-user, per-day point sums ordered by Telegram ID
// and then by date. Days are UTC calendar dates.
func (s *Session) ScoreTimeSeries(ctx context.Context) ([]model.DailyPoints, error) {
	var rows []dailyRow
	query := s.dialect.timeSeriesQuery()
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Raw(query).Scan(&rows).Error; err != nil {
			return fmt.Errorf("score time series: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	series := make([]model.DailyPoints, 0, len(rows))
	for _, r := range rows {
		day, err := time.ParseInLocation(dayLayout, r.Day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("score time series: parse day %q: %w", r.Day, err)
		}
		series = append(series, model.DailyPoints{
			TelegramID: r.TelegramID,
			Username:   r.Username,
			FirstName:  r.FirstName,
			LastName:   r.LastName,
			Date:       day,
			Points:     r.Points,
		})
	}
	return series, nil
}
