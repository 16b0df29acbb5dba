package routine

import (
	"context"
	"time"

	"github.com/cppla/goaltrack/goals"
	"github.com/cppla/goaltrack/kvstore"
)

const markerKeyPrefix = "lastRoutineResetDate_"

// MarkerKey is the storage key of a user's reset marker.
func MarkerKey(userID string) string {
	return markerKeyPrefix + userID
}

// Markers reads and writes the per-user date of the last daily reset.
type Markers struct {
	store kvstore.Store
}

// NewMarkers keeps markers in store.
func NewMarkers(store kvstore.Store) *Markers {
	return &Markers{store: store}
}

// Last returns the date of the user's last reset. ok is false when no marker
// exists or it holds something that is not a date.
func (m *Markers) Last(ctx context.Context, userID string) (day time.Time, ok bool, err error) {
	raw, found, err := m.store.Get(ctx, MarkerKey(userID))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	day, ok = goals.ParseDay(raw)
	return day, ok, nil
}

// Mark records day as the user's last reset date.
func (m *Markers) Mark(ctx context.Context, userID string, day time.Time) error {
	return m.store.Set(ctx, MarkerKey(userID), goals.FormatDay(day))
}

// Clear deletes the user's marker so the next check resets again. Debug and test use only.
func (m *Markers) Clear(ctx context.Context, userID string) error {
	return m.store.Remove(ctx, MarkerKey(userID))
}
