package goals

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var errNoGoal = errors.New("response carries no goal record")

// wireGoal mirrors a goal row as the remote API serializes it. Every field is
// kept raw because the API mixes numbers, numeric strings, 0/1 flags and
// JSON-in-a-string day lists.
type wireGoal struct {
	ID            json.RawMessage `json:"id"`
	UserID        json.RawMessage `json:"user_id"`
	Title         json.RawMessage `json:"title"`
	Description   json.RawMessage `json:"description"`
	Category      json.RawMessage `json:"category"`
	Type          json.RawMessage `json:"type"`
	IsDaily       json.RawMessage `json:"is_daily"`
	IsCompleted   json.RawMessage `json:"is_completed"`
	RoutineDays   json.RawMessage `json:"routine_days"`
	Progress      json.RawMessage `json:"progress"`
	StartDate     json.RawMessage `json:"start_date"`
	TargetDate    json.RawMessage `json:"target_date"`
	LastCompleted json.RawMessage `json:"last_completed"`
	CoinReward    json.RawMessage `json:"coin_reward"`
}

// goalBody is the outgoing representation for POST /goals and PUT /goals/:id.
type goalBody struct {
	UserID        string  `json:"user_id,omitempty"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	Type          string  `json:"type"`
	IsDaily       int     `json:"is_daily"`
	RoutineDays   string  `json:"routine_days"`
	Progress      int     `json:"progress"`
	IsCompleted   int     `json:"is_completed"`
	StartDate     *string `json:"start_date,omitempty"`
	TargetDate    *string `json:"target_date,omitempty"`
	LastCompleted *string `json:"last_completed,omitempty"`
	CoinReward    int     `json:"coin_reward"`
}

type progressBody struct {
	Progress      int     `json:"progress"`
	LastCompleted *string `json:"last_completed,omitempty"`
}

// DecodeGoal translates one wire record into a canonical Goal. It never
// panics; a record it cannot make valid comes back as an error.
func DecodeGoal(raw json.RawMessage) (Goal, error) {
	var w wireGoal
	if err := json.Unmarshal(raw, &w); err != nil {
		return Goal{}, fmt.Errorf("decode goal: %w", err)
	}

	id, ok := rawInt(w.ID)
	if !ok || id == 0 {
		return Goal{}, errors.New("decode goal: missing id")
	}
	title := strings.TrimSpace(rawString(w.Title))
	if title == "" {
		return Goal{}, fmt.Errorf("decode goal %d: missing title", id)
	}

	g := Goal{
		ID:          id,
		UserID:      rawString(w.UserID),
		Title:       title,
		Description: rawString(w.Description),
		Category:    rawString(w.Category),
	}
	daily, _ := rawBool(w.IsDaily)
	g.IsDaily = daily || strings.EqualFold(rawString(w.Type), string(TypeRecurring))
	g.RoutineDays = NormalizeWeekdays(rawDays(w.RoutineDays))
	g.StartDate = rawDay(w.StartDate)
	g.TargetDate = rawDay(w.TargetDate)
	g.LastCompleted = rawDay(w.LastCompleted)
	if coins, ok := rawInt(w.CoinReward); ok && coins > 0 {
		g.CoinReward = int(coins)
	}

	progress, hasProgress := rawInt(w.Progress)
	if completed, _ := rawBool(w.IsCompleted); completed && !hasProgress {
		progress = 100
	}
	g = finalize(g).WithProgress(int(progress))

	if err := validate.Struct(g); err != nil {
		return Goal{}, fmt.Errorf("decode goal %d: %w", id, err)
	}
	return g, nil
}

// DecodeGoalList accepts a bare array or an object wrapping it under "data"
// or "goals". Records that fail DecodeGoal are reported through drop and left out.
func DecodeGoalList(body []byte, drop func(raw json.RawMessage, err error)) ([]Goal, error) {
	items, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	out := make([]Goal, 0, len(items))
	for _, item := range items {
		g, err := DecodeGoal(item)
		if err != nil {
			if drop != nil {
				drop(item, err)
			}
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func unwrapList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	var items []json.RawMessage
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode goal list: %w", err)
		}
		return items, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode goal list: %w", err)
	}
	for _, key := range []string{"data", "goals"} {
		if inner, ok := envelope[key]; ok {
			return unwrapList(inner)
		}
	}
	return nil, errors.New("decode goal list: no goal array in response")
}

// unwrapObject finds the goal record in a single-goal response.
func unwrapObject(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode goal: %w", err)
	}
	if _, ok := envelope["title"]; ok {
		return body, nil
	}
	for _, key := range []string{"data", "goal"} {
		if inner, ok := envelope[key]; ok && len(bytes.TrimSpace(inner)) > 0 && inner[0] == '{' {
			return unwrapObject(inner)
		}
	}
	return nil, errNoGoal
}

// createdID reads the server-assigned id from a create response that only
// echoes the id, e.g. {"id": 12} or {"insertId": 12}.
func createdID(body []byte) (int64, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &envelope); err != nil {
		return 0, false
	}
	for _, key := range []string{"id", "insertId", "goalId"} {
		if id, ok := rawInt(envelope[key]); ok && id > 0 {
			return id, true
		}
	}
	if inner, ok := envelope["data"]; ok {
		return createdID(inner)
	}
	return 0, false
}

// encodeGoal renders g in the remote API's field names.
func encodeGoal(g Goal) goalBody {
	days := weekdaysToInts(g.RoutineDays)
	if days == nil {
		days = []int{}
	}
	encodedDays, _ := json.Marshal(days)
	return goalBody{
		UserID:        g.UserID,
		Title:         g.Title,
		Description:   g.Description,
		Category:      g.Category,
		Type:          string(g.Type),
		IsDaily:       flag(g.IsDaily),
		RoutineDays:   string(encodedDays),
		Progress:      g.Progress,
		IsCompleted:   flag(g.IsCompleted),
		StartDate:     dayString(g.StartDate),
		TargetDate:    dayString(g.TargetDate),
		LastCompleted: dayString(g.LastCompleted),
		CoinReward:    g.CoinReward,
	}
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dayString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatDay(*t)
	return &s
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func rawString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// numbers and booleans keep their literal text
	return string(bytes.TrimSpace(raw))
}

func rawInt(raw json.RawMessage) (int64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int64(n), true
		}
	}
	return 0, false
}

func rawBool(raw json.RawMessage) (bool, bool) {
	if isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	if n, ok := rawInt(raw); ok {
		return n != 0, true
	}
	switch strings.ToLower(strings.TrimSpace(rawString(raw))) {
	case "true", "yes":
		return true, true
	case "false", "no", "":
		return false, true
	}
	return false, false
}

// rawDays accepts [1,3], "[1,3]", "1,3" and ["1","3"].
func rawDays(raw json.RawMessage) []int {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]int, 0, len(items))
		for _, it := range items {
			if n, ok := rawInt(it); ok {
				out = append(out, int(n))
			}
		}
		return out
	}
	s := strings.TrimSpace(rawString(raw))
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var inner []json.RawMessage
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil
		}
		return rawDays(json.RawMessage(s))
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func rawDay(raw json.RawMessage) *time.Time {
	day, ok := ParseDay(rawString(raw))
	if !ok {
		return nil
	}
	return &day
}
