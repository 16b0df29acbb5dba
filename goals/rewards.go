package goals

import "time"

// CanClaimRewards decides whether completing g at now may grant XP and coins.
//
// One-time goals are eligible only while their due date is today or later, so
// overdue goals cannot be completed for rewards after the fact. Recurring goals
// are eligible on their scheduled weekdays. Anything else is eligible.
func CanClaimRewards(g Goal, now time.Time) bool {
	if g.IsDaily {
		return IsActiveToday(g, now.Weekday())
	}
	if g.TargetDate == nil {
		return true
	}
	return !CalendarDay(*g.TargetDate).Before(CalendarDay(now))
}

// Reward is the outcome of a completion toggle. Pending marks an eligible
// completion the server has not confirmed; nothing is granted for it yet.
type Reward struct {
	Eligible bool `json:"eligible"`
	Pending  bool `json:"pending,omitempty"`
	Coins    int  `json:"coins"`
	XP       int  `json:"xp"`
}

// EvaluateCompletion consults CanClaimRewards only when the goal moves from
// incomplete to complete. The bool result reports whether that transition happened.
func EvaluateCompletion(before, after Goal, now time.Time, xp int) (Reward, bool) {
	if before.IsCompleted || !after.IsCompleted {
		return Reward{}, false
	}
	if !CanClaimRewards(after, now) {
		return Reward{}, true
	}
	return Reward{Eligible: true, Coins: after.CoinReward, XP: xp}, true
}
