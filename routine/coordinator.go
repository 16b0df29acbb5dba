// Package routine runs the once-a-day reset of recurring goals.
package routine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/goaltrack/goals"
	"github.com/cppla/goaltrack/kvstore"
)

// GoalStore is the part of the goal client the coordinator drives.
type GoalStore interface {
	FetchAll(ctx context.Context, userID string) goals.ListResult
	SetProgress(ctx context.Context, id int64, progress int) goals.Result
}

// Status summarizes what a check did.
type Status string

const (
	// StatusUpToDate: the marker already holds today; nothing was written.
	StatusUpToDate Status = "up_to_date"
	// StatusReset: the batch ran and the marker was advanced (or its write was attempted).
	StatusReset Status = "reset"
	// StatusBusy: another invocation holds the user's lease.
	StatusBusy Status = "busy"
	// StatusDeferred: the goal list could not be fetched; the marker was left alone so the next check retries.
	StatusDeferred Status = "deferred"
)

// Report describes one CheckAndReset call.
type Report struct {
	UserID   string   `json:"userId"`
	Date     string   `json:"date"`
	Status   Status   `json:"status"`
	Checked  int      `json:"checked"`
	Reset    []int64  `json:"reset"`
	Failed   []int64  `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}

const (
	lockKeyPrefix   = "routineResetLock_"
	defaultLeaseTTL = 2 * time.Minute
)

// Options configures a Coordinator.
type Options struct {
	Logger   *zap.SugaredLogger
	Now      func() time.Time
	Location *time.Location
	// LeaseTTL bounds how long a crashed invocation can block others.
	LeaseTTL time.Duration
}

// Coordinator resets recurring goals once per calendar day per user.
//
// The marker read, batch and marker write run under a per-user lease in the
// same store as the markers, so concurrent checks for one user do not both
// reset. Individual reset failures and marker I/O failures are logged and
// never abort the check.
type Coordinator struct {
	store   kvstore.Store
	markers *Markers
	log     *zap.SugaredLogger
	now     func() time.Time
	loc     *time.Location
	ttl     time.Duration
}

// NewCoordinator keeps markers and leases in store.
func NewCoordinator(store kvstore.Store, opts Options) *Coordinator {
	c := &Coordinator{
		store:   store,
		markers: NewMarkers(store),
		log:     opts.Logger,
		now:     opts.Now,
		loc:     opts.Location,
		ttl:     opts.LeaseTTL,
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.ttl <= 0 {
		c.ttl = defaultLeaseTTL
	}
	return c
}

// Markers exposes the marker store for inspection and debug clearing.
func (c *Coordinator) Markers() *Markers {
	return c.markers
}

// Today returns the current calendar date in the coordinator's location.
func (c *Coordinator) Today() time.Time {
	return goals.CalendarDay(c.now().In(c.loc))
}

// CheckAndReset runs the daily reset for userID. When the user's marker is not
// today, every recurring goal scheduled for today is set back to 0 progress,
// complete or not, one at a time, and the marker is moved to today.
func (c *Coordinator) CheckAndReset(ctx context.Context, userID string, store GoalStore) Report {
	local := c.now().In(c.loc)
	today := goals.CalendarDay(local)
	report := Report{UserID: userID, Date: goals.FormatDay(today), Reset: []int64{}, Failed: []int64{}}

	release, acquired := c.acquire(ctx, userID, &report)
	if !acquired {
		report.Status = StatusBusy
		return report
	}
	defer release()

	last, ok, err := c.markers.Last(ctx, userID)
	if err != nil {
		c.warn(&report, "reset marker read failed user=%s err=%v", userID, err)
	}
	if ok && last.Equal(today) {
		report.Status = StatusUpToDate
		return report
	}

	list := store.FetchAll(ctx, userID)
	if list.Outcome == goals.OutcomeFailed {
		c.warn(&report, "goal list unavailable for reset user=%s err=%v", userID, list.Err)
		report.Status = StatusDeferred
		return report
	}
	for _, g := range list.Goals {
		if !g.IsDaily || !goals.IsActiveToday(g, local.Weekday()) {
			continue
		}
		report.Checked++
		res := store.SetProgress(ctx, g.ID, 0)
		if !res.OK() {
			report.Failed = append(report.Failed, g.ID)
			c.warn(&report, "routine reset failed user=%s goal=%d outcome=%s err=%v", userID, g.ID, res.Outcome, res.Err)
			continue
		}
		report.Reset = append(report.Reset, g.ID)
	}

	if err := c.markers.Mark(ctx, userID, today); err != nil {
		c.warn(&report, "reset marker write failed user=%s err=%v", userID, err)
	}
	report.Status = StatusReset
	c.log.Infof("routine reset done user=%s date=%s reset=%d failed=%d", userID, report.Date, len(report.Reset), len(report.Failed))
	return report
}

// acquire takes the user's lease. On a store error the check proceeds without it.
func (c *Coordinator) acquire(ctx context.Context, userID string, report *Report) (func(), bool) {
	key := lockKeyPrefix + userID
	owner := uuid.NewString()
	ok, err := c.store.SetNX(ctx, key, owner, c.ttl)
	if err != nil {
		c.warn(report, "reset lease unavailable user=%s err=%v", userID, err)
		return func() {}, true
	}
	if !ok {
		c.log.Infof("routine reset already running user=%s", userID)
		return nil, false
	}
	return func() {
		if _, err := c.store.CompareAndDelete(context.WithoutCancel(ctx), key, owner); err != nil {
			c.log.Warnf("reset lease release failed user=%s err=%v", userID, err)
		}
	}, true
}

func (c *Coordinator) warn(report *Report, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.log.Warn(msg)
	report.Warnings = append(report.Warnings, msg)
}
