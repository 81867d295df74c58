package model

import (
	"fmt"
	"strings"
	"time"
)

// User stores Telegram user metadata.
type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	JoinedAt   time.Time
}

// Profile is what a single sighting of a Telegram user tells us.
// Empty fields mean "not provided" and never overwrite stored values.
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// DisplayName picks "first last", then the handle, then a placeholder with the id.
func DisplayName(telegramID int64, username, firstName, lastName string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name != "" {
		return name
	}
	if username = strings.TrimSpace(username); username != "" {
		return username
	}
	return fmt.Sprintf("User %d", telegramID)
}

func (u User) DisplayName() string {
	return DisplayName(u.TelegramID, u.Username, u.FirstName, u.LastName)
}
