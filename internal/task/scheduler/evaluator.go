package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"famcomp/internal/chore"
)

// MaxPreviewDates bounds ExecutionDates.
const MaxPreviewDates = 100

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleParseError reports a cron expression that could not be parsed.
type ScheduleParseError struct {
	Expr string
	Err  error
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Err)
}

func (e *ScheduleParseError) Unwrap() error { return e.Err }

// normalizeExpr trims whitespace and an optional "cron:" prefix.
func normalizeExpr(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= len("cron:") && strings.EqualFold(s[:len("cron:")], "cron:") {
		s = strings.TrimSpace(s[len("cron:"):])
	}
	return s
}

// ParseCron parses expr with the scheduler's cron dialect.
func ParseCron(expr string) (cron.Schedule, error) {
	s := normalizeExpr(expr)
	if s == "" {
		return nil, &ScheduleParseError{Expr: expr, Err: fmt.Errorf("empty expression")}
	}
	sched, err := cronParser.Parse(s)
	if err != nil {
		return nil, &ScheduleParseError{Expr: expr, Err: err}
	}
	return sched, nil
}

// NextOccurrences lists the fire times of expr in [windowStart, windowEnd],
// ascending, at most maxCount of them (maxCount <= 0 means no cap).
// Times are computed in windowStart's location.
func NextOccurrences(expr string, windowStart, windowEnd time.Time, maxCount int) ([]time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return occurrences(sched, windowStart, windowEnd, maxCount), nil
}

func occurrences(sched cron.Schedule, windowStart, windowEnd time.Time, maxCount int) []time.Time {
	var out []time.Time
	if windowEnd.Before(windowStart) {
		return out
	}
	// Next is strictly-after; step back one nanosecond so windowStart itself counts.
	t := windowStart.Add(-time.Nanosecond)
	for maxCount <= 0 || len(out) < maxCount {
		t = sched.Next(t)
		if t.IsZero() || t.After(windowEnd) {
			break
		}
		out = append(out, t)
	}
	return out
}

// ExecutionDates previews up to MaxPreviewDates occurrences of the task's
// schedule between start and end, with seconds and sub-seconds zeroed.
// A task without a cron or with an invalid one yields an empty list.
func ExecutionDates(task chore.Task, start, end time.Time) []time.Time {
	out := []time.Time{}
	if !task.HasSchedule() {
		return out
	}
	dates, err := NextOccurrences(task.Cron, start, end, MaxPreviewDates)
	if err != nil {
		return out
	}
	for _, d := range dates {
		out = append(out, d.Truncate(time.Minute))
	}
	return out
}
