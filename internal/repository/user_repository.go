package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"points-bot/internal/model"
)

const upsertUserSQL = `
INSERT INTO users (telegram_id, username, first_name, last_name, joined_at)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)
ON CONFLICT (telegram_id) DO UPDATE SET
	username = COALESCE(excluded.username, users.username),
	first_name = COALESCE(excluded.first_name, users.first_name),
	last_name = COALESCE(excluded.last_name, users.last_name)`

const selectUserSQL = `
SELECT id, telegram_id,
	COALESCE(username, '') AS username,
	COALESCE(first_name, '') AS first_name,
	COALESCE(last_name, '') AS last_name,
	joined_at
FROM users
WHERE telegram_id = ?`

type userRow struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	JoinedAt   time.Time
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:         r.ID,
		TelegramID: r.TelegramID,
		Username:   r.Username,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		JoinedAt:   r.JoinedAt,
	}
}

var errUserNotFound = errors.New("user not found")

// UpsertUser creates the user on first sighting and afterwards refreshes only
// the non-empty profile fields. joined_at is written once.
func (s *Session) UpsertUser(ctx context.Context, p model.Profile) (*model.User, error) {
	var user model.User
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec(upsertUserSQL, p.TelegramID, p.Username, p.FirstName, p.LastName, s.timestamp()).Error; err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		row, err := findUser(tx, p.TelegramID)
		if err != nil {
			return err
		}
		user = row.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUser returns the user with the given Telegram ID, or nil when there is none.
func (s *Session) FindUser(ctx context.Context, telegramID int64) (*model.User, error) {
	var user *model.User
	err := s.tx(ctx, func(tx *gorm.DB) error {
		row, err := findUser(tx, telegramID)
		switch {
		case errors.Is(err, errUserNotFound):
			return nil
		case err != nil:
			return err
		}
		u := row.toModel()
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func findUser(tx *gorm.DB, telegramID int64) (userRow, error) {
	var rows []userRow
	if err := tx.Raw(selectUserSQL, telegramID).Scan(&rows).Error; err != nil {
		return userRow{}, fmt.Errorf("find user: %w", err)
	}
	if len(rows) == 0 {
		return userRow{}, errUserNotFound
	}
	return rows[0], nil
}
