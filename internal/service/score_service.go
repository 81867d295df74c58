package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"points-bot/internal/access"
	"points-bot/internal/chart"
	"points-bot/internal/model"
	"points-bot/internal/repository"
)

// ErrPermissionDenied is returned when the policy refuses an action.
var ErrPermissionDenied = errors.New("permission denied")

// PointsPerCommand is what a single /plus grants.
const PointsPerCommand = 1

// ScoreService runs the bot's flows against the store, one session per flow.
type ScoreService struct {
	store  *repository.Store
	policy *access.Policy
}

func NewScoreService(store *repository.Store, policy *access.Policy) *ScoreService {
	return &ScoreService{store: store, policy: policy}
}

// GivePoint registers the sighting, awards one point and returns the new total.
func (s *ScoreService) GivePoint(ctx context.Context, p model.Profile) (int64, error) {
	var total int64
	err := s.store.WithSession(ctx, func(sess *repository.Session) error {
		if _, err := sess.UpsertUser(ctx, p); err != nil {
			return err
		}
		event, err := sess.AddScore(ctx, p.TelegramID, PointsPerCommand)
		if err != nil {
			return err
		}
		if event == nil {
			log.Printf("[warn] user %d vanished between upsert and score", p.TelegramID)
		}
		total, err = sess.TotalScore(ctx, p.TelegramID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("give point to %d: %w", p.TelegramID, err)
	}
	return total, nil
}

// TrackMember records a user seen through a membership update.
func (s *ScoreService) TrackMember(ctx context.Context, p model.Profile) (*model.User, error) {
	var user *model.User
	err := s.store.WithSession(ctx, func(sess *repository.Session) error {
		var err error
		user, err = sess.UpsertUser(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("track member %d: %w", p.TelegramID, err)
	}
	return user, nil
}

// Leaderboard returns up to limit users ordered by total points.
func (s *ScoreService) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	var entries []model.LeaderboardEntry
	err := s.store.WithSession(ctx, func(sess *repository.Session) error {
		var err error
		entries, err = sess.TopUsers(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return entries, nil
}

// ClearScores wipes all score events when the policy allows it and returns
// ErrPermissionDenied otherwise.
func (s *ScoreService) ClearScores(ctx context.Context, who access.Identity) (int64, error) {
	if !s.policy.Allows(who, access.PermClearScores) {
		return 0, ErrPermissionDenied
	}

	var removed int64
	err := s.store.WithSession(ctx, func(sess *repository.Session) error {
		var err error
		removed, err = sess.ClearAllScores(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear scores: %w", err)
	}
	log.Printf("[info] scores cleared by user=%d (@%s), removed=%d", who.ID, who.Username, removed)
	return removed, nil
}

// Chart renders the cumulative points chart. It returns chart.ErrNoData when
// nobody has scored yet.
func (s *ScoreService) Chart(ctx context.Context, opts chart.Options) ([]byte, error) {
	var rows []model.DailyPoints
	err := s.store.WithSession(ctx, func(sess *repository.Session) error {
		var err error
		rows, err = sess.ScoreTimeSeries(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("chart data: %w", err)
	}
	if len(rows) == 0 {
		return nil, chart.ErrNoData
	}
	return chart.Render(chart.Cumulative(rows), opts)
}
