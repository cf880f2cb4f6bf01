// Package schedule evaluates cron expressions for scheduled tasks.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBadSchedule indicates an unparseable cron expression. Handlers
// skip the offending task entry rather than failing the whole spec.
var ErrBadSchedule = errors.New("bad schedule")

// Evaluator yields the next trigger instant for a schedule expression.
type Evaluator interface {
	Next(expr string, after time.Time) (time.Time, error)
}

// CronEvaluator evaluates standard five-field cron expressions in a
// fixed timezone.
type CronEvaluator struct {
	loc *time.Location
}

// NewCron returns an evaluator bound to loc. A nil loc means local time.
func NewCron(loc *time.Location) *CronEvaluator {
	if loc == nil {
		loc = time.Local
	}
	return &CronEvaluator{loc: loc}
}

// Next returns the next future trigger instant implied by expr after
// the given instant.
func (e *CronEvaluator) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadSchedule, expr, err)
	}
	return sched.Next(after.In(e.loc)), nil
}
