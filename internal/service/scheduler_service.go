package service

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const clockLayout = "15:04"

// SchedulerService runs background jobs such as the leaderboard digest.
// A job still running when its next tick arrives is skipped, and a panicking
// job is logged instead of taking the process down.
type SchedulerService struct {
	cron *cron.Cron
}

func NewSchedulerService(loc *time.Location) *SchedulerService {
	cronLog := cron.PrintfLogger(log.New(os.Stdout, "[cron] ", log.LstdFlags))
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
}

// Schedule registers job for spec: either a daily "HH:MM" time or a cron
// expression with a seconds field ("@every 6h" style descriptors work too).
func (s *SchedulerService) Schedule(spec string, job func()) (cron.EntryID, error) {
	spec = strings.TrimSpace(spec)
	if looksLikeClock(spec) {
		daily, err := dailySpec(spec)
		if err != nil {
			return 0, err
		}
		spec = daily
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return id, nil
}

// Next returns when the entry fires next. Zero if the scheduler is not running.
func (s *SchedulerService) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *SchedulerService) Start() {
	s.cron.Start()
	log.Printf("[info] scheduler started with %d job(s)", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[info] scheduler stopped")
}

func looksLikeClock(spec string) bool {
	return strings.Count(spec, ":") == 1 && !strings.ContainsAny(spec, " @*")
}

// dailySpec turns "HH:MM" into a seconds-field cron line firing once a day.
func dailySpec(clock string) (string, error) {
	at, err := time.Parse(clockLayout, clock)
	if err != nil {
		return "", fmt.Errorf("invalid time %q, expected HH:MM: %w", clock, err)
	}
	return fmt.Sprintf("0 %d %d * * *", at.Minute(), at.Hour()), nil
}
