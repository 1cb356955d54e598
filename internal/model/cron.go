package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrEmptySchedule = errors.New("empty schedule")

// Schedule is a parsed health check schedule. Every is non-zero for
// "@every <duration>" schedules, Cron holds the expression otherwise.
type Schedule struct {
	Every time.Duration
	Cron  string
}

// ParseSchedule accepts a 5 field cron expression, a cron macro such as
// @hourly, or @every followed by a Go duration.
func ParseSchedule(expr string) (Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return Schedule{}, ErrEmptySchedule
	}

	if rest, ok := strings.CutPrefix(e, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, fmt.Errorf("parsing %q: %w", e, err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("parsing %q: interval must be positive", e)
		}
		return Schedule{Every: d}, nil
	}

	var err error
	if strings.HasPrefix(e, "@") {
		_, err = cron.ParseStandard(e)
	} else {
		parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		_, err = parser5.Parse(e)
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("parsing %q: %w", e, err)
	}
	return Schedule{Cron: e}, nil
}

// Interval returns the gap between two consecutive runs of the schedule.
func (s Schedule) Interval() (time.Duration, error) {
	if s.Every > 0 {
		return s.Every, nil
	}
	schedule, err := cron.ParseStandard(s.Cron)
	if err != nil {
		return 0, err
	}
	next1 := schedule.Next(time.Now())
	next2 := schedule.Next(next1)
	return next2.Sub(next1), nil
}
