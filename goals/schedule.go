package goals

import (
	"sort"
	"time"
)

// IsActiveToday reports whether g is scheduled on the given weekday.
//
// One-time goals are always active. A recurring goal without routine days is
// active every day, so goals saved without a schedule still show up and reset.
func IsActiveToday(g Goal, today time.Weekday) bool {
	if !g.IsDaily {
		return true
	}
	if len(g.RoutineDays) == 0 {
		return true
	}
	for _, d := range g.RoutineDays {
		if d == today {
			return true
		}
	}
	return false
}

// NormalizeWeekdays keeps values in [0,6], drops duplicates and sorts the result.
func NormalizeWeekdays(days []int) []time.Weekday {
	seen := make(map[int]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < int(time.Sunday) || d > int(time.Saturday) || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, time.Weekday(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func weekdaysToInts(days []time.Weekday) []int {
	if days == nil {
		return nil
	}
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out
}
