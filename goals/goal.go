package goals

import (
	"strings"
	"time"
)

// DayLayout is the calendar-date format used on the wire and in reset markers.
const DayLayout = "2006-01-02"

// GoalType distinguishes recurring goals from one-time goals.
type GoalType string

const (
	TypeRecurring GoalType = "recurring"
	TypeOneTime   GoalType = "one-time"
)

// Goal is the canonical in-memory shape of a goal record.
type Goal struct {
	ID            int64          `json:"id" validate:"ne=0"`
	UserID        string         `json:"userId"`
	Title         string         `json:"title" validate:"required"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Color         string         `json:"color"`
	Type          GoalType       `json:"type" validate:"oneof=recurring one-time"`
	IsDaily       bool           `json:"isDaily"`
	RoutineDays   []time.Weekday `json:"routineDays" validate:"dive,min=0,max=6"`
	Progress      int            `json:"progress" validate:"min=0,max=100"`
	IsCompleted   bool           `json:"isCompleted"`
	StartDate     *time.Time     `json:"startDate,omitempty"`
	TargetDate    *time.Time     `json:"targetDate,omitempty"`
	LastCompleted *time.Time     `json:"lastCompleted,omitempty"`
	CoinReward    int            `json:"coinReward" validate:"min=0"`
}

// IsLocal reports whether the goal only exists on this device.
func (g Goal) IsLocal() bool {
	return g.ID < 0
}

// WithProgress returns a copy of g with progress clamped and the completion flag derived from it.
func (g Goal) WithProgress(progress int) Goal {
	g.Progress = ClampProgress(progress)
	g.IsCompleted = g.Progress == 100
	return g
}

// Draft carries the caller-supplied fields of a goal that does not exist yet.
type Draft struct {
	UserID      string         `json:"userId"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	IsDaily     bool           `json:"isDaily"`
	RoutineDays []time.Weekday `json:"routineDays"`
	Progress    int            `json:"progress"`
	StartDate   *time.Time     `json:"startDate,omitempty"`
	TargetDate  *time.Time     `json:"targetDate,omitempty"`
	CoinReward  int            `json:"coinReward"`
}

// Goal turns the draft into a canonical goal carrying the given id.
func (d Draft) Goal(id int64) Goal {
	g := Goal{
		ID:          id,
		UserID:      d.UserID,
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		IsDaily:     d.IsDaily,
		RoutineDays: NormalizeWeekdays(weekdaysToInts(d.RoutineDays)),
		StartDate:   d.StartDate,
		TargetDate:  d.TargetDate,
		CoinReward:  d.CoinReward,
	}
	if g.CoinReward < 0 {
		g.CoinReward = 0
	}
	return finalize(g).WithProgress(d.Progress)
}

// ClampProgress forces p into [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// CalendarDay returns t's calendar date, read in t's own location, as midnight UTC.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders t as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay accepts YYYY-MM-DD or any longer ISO timestamp and keeps only its date part.
func ParseDay(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(DayLayout) {
		return time.Time{}, false
	}
	day, err := time.Parse(DayLayout, raw[:len(DayLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

var categoryColors = map[string]string{
	"health":      "#4CAF50",
	"fitness":     "#FF7043",
	"learning":    "#42A5F5",
	"education":   "#42A5F5",
	"career":      "#7E57C2",
	"work":        "#7E57C2",
	"finance":     "#FFCA28",
	"personal":    "#EC407A",
	"social":      "#26C6DA",
	"mindfulness": "#8D6E63",
}

const defaultCategoryColor = "#9E9E9E"

// CategoryColor maps a category to its fixed display color.
func CategoryColor(category string) string {
	if c, ok := categoryColors[strings.ToLower(strings.TrimSpace(category))]; ok {
		return c
	}
	return defaultCategoryColor
}

// finalize derives the fields that follow from others.
func finalize(g Goal) Goal {
	switch {
	case !g.IsDaily:
		g.Type = TypeOneTime
		g.RoutineDays = nil
	case g.RoutineDays == nil:
		g.Type = TypeRecurring
		g.RoutineDays = []time.Weekday{}
	default:
		g.Type = TypeRecurring
	}
	g.Color = CategoryColor(g.Category)
	return g
}
