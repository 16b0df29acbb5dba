package goals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Outcome tells where the goal in a Result came from.
type Outcome string

const (
	// OutcomeServer: the remote API confirmed the operation.
	OutcomeServer Outcome = "server"
	// OutcomeLocal: a local-only goal, the server was never contacted.
	OutcomeLocal Outcome = "local"
	// OutcomeFallback: the remote call failed and a plausible local value was substituted.
	OutcomeFallback Outcome = "fallback"
	// OutcomeNotFound: the server says the goal does not exist.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeFailed: nothing usable could be produced.
	OutcomeFailed Outcome = "failed"
)

// Result is the outcome of a single-goal operation. Err keeps the underlying
// failure even when a fallback goal was substituted.
type Result struct {
	Goal    *Goal
	Outcome Outcome
	Err     error
}

// OK reports whether the operation produced a usable value (or, for Remove,
// whether the goal counts as deleted).
func (r Result) OK() bool {
	return r.Outcome == OutcomeServer || r.Outcome == OutcomeLocal || r.Outcome == OutcomeFallback
}

// ListResult is the outcome of FetchAll. A failed fetch has an empty, non-nil
// Goals slice; callers must read it as "possibly stale", not "none".
type ListResult struct {
	Goals   []Goal
	Outcome Outcome
	Dropped int
	Err     error
}

// StatusError is a non-2xx answer from the remote goal API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("goal api responded %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the goal API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsServerError reports whether err is a 5xx from the goal API.
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 500
}

// IsTransport reports whether err happened before any HTTP status was received.
func IsTransport(err error) bool {
	var se *StatusError
	return err != nil && !errors.As(err, &se)
}

// Timeouts bound each class of remote call.
type Timeouts struct {
	Read   time.Duration
	Write  time.Duration
	Delete time.Duration
}

// DefaultTimeouts are used for any zero field of Options.Timeouts.
var DefaultTimeouts = Timeouts{Read: 15 * time.Second, Write: 10 * time.Second, Delete: 5 * time.Second}

// Options configures a Client.
type Options struct {
	BaseURL string
	// UserID is the signed-in user; FetchByID falls back to scanning their list.
	UserID string
	// Tokens supplies the bearer token for every request. Nil sends no Authorization header.
	Tokens oauth2.TokenSource
	// HTTPClient is the base transport. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	Cache      *Cache
	Timeouts   Timeouts
	Logger     *zap.SugaredLogger
	Now        func() time.Time
	Location   *time.Location
	// RequestID, when set, is sent as X-Request-ID on every call instead of a fresh uuid.
	RequestID string
}

// Client is the goal store client for one signed-in user. None of its
// operations return a Go error; failures are folded into Result outcomes so
// callers are never blocked by connectivity loss.
type Client struct {
	baseURL   string
	userID    string
	http      *http.Client
	cache     *Cache
	timeouts  Timeouts
	log       *zap.SugaredLogger
	now       func() time.Time
	loc       *time.Location
	requestID string
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	hc := base
	if opts.Tokens != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc = oauth2.NewClient(ctx, opts.Tokens)
	}
	t := opts.Timeouts
	if t.Read <= 0 {
		t.Read = DefaultTimeouts.Read
	}
	if t.Write <= 0 {
		t.Write = DefaultTimeouts.Write
	}
	if t.Delete <= 0 {
		t.Delete = DefaultTimeouts.Delete
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userID:    opts.UserID,
		http:      hc,
		cache:     opts.Cache,
		timeouts:  t,
		log:       log,
		now:       now,
		loc:       loc,
		requestID: opts.RequestID,
	}
}

// UserID returns the user this client acts for.
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) today() time.Time {
	return c.now().In(c.loc)
}

// FetchAll lists the goals of userID. Transport, status and envelope failures
// all yield an empty list with OutcomeFailed; malformed records are dropped.
func (c *Client) FetchAll(ctx context.Context, userID string) ListResult {
	body, err := c.do(ctx, http.MethodGet, "/goals?userId="+url.QueryEscape(userID), nil, c.timeouts.Read)
	if err != nil {
		c.log.Warnf("fetch goals failed user=%s err=%v", userID, err)
		return ListResult{Goals: []Goal{}, Outcome: OutcomeFailed, Err: err}
	}
	dropped := 0
	list, err := DecodeGoalList(body, func(raw json.RawMessage, err error) {
		dropped++
		c.log.Warnf("dropping malformed goal user=%s err=%v record=%s", userID, err, truncate(string(raw), 200))
	})
	if err != nil {
		c.log.Warnf("fetch goals unreadable user=%s err=%v", userID, err)
		return ListResult{Goals: []Goal{}, Outcome: OutcomeFailed, Err: err}
	}
	c.cache.PutAll(ctx, userID, list)
	return ListResult{Goals: list, Outcome: OutcomeServer, Dropped: dropped}
}

// FetchByID loads one goal. Local-only ids never reach the server. A 5xx is
// retried by scanning FetchAll for the id.
func (c *Client) FetchByID(ctx context.Context, id int64) Result {
	if id < 0 {
		g := c.localCopy(ctx, id)
		return Result{Goal: &g, Outcome: OutcomeLocal}
	}
	if id == 0 {
		return Result{Outcome: OutcomeNotFound, Err: errors.New("goal id 0 does not exist")}
	}

	body, err := c.do(ctx, http.MethodGet, goalPath(id), nil, c.timeouts.Read)
	if err != nil {
		switch {
		case IsNotFound(err):
			return Result{Outcome: OutcomeNotFound, Err: err}
		case IsServerError(err):
			c.log.Warnf("fetch goal failed, scanning list id=%d err=%v", id, err)
			list := c.FetchAll(ctx, c.userID)
			for i := range list.Goals {
				if list.Goals[i].ID == id {
					g := list.Goals[i]
					return Result{Goal: &g, Outcome: OutcomeFallback, Err: err}
				}
			}
			return Result{Outcome: OutcomeFailed, Err: err}
		default:
			c.log.Warnf("fetch goal failed id=%d err=%v", id, err)
			return Result{Outcome: OutcomeFailed, Err: err}
		}
	}

	g, err := decodeSingle(body)
	if err != nil {
		c.log.Warnf("fetch goal unreadable id=%d err=%v", id, err)
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	c.cache.Put(ctx, c.userID, g)
	return Result{Goal: &g, Outcome: OutcomeServer}
}

// SetProgress clamps progress into [0,100] and writes it. When the write fails
// and a snapshot of the goal is known, the snapshot is returned updated with
// the new progress, so the UI keeps its state; the server may disagree later.
func (c *Client) SetProgress(ctx context.Context, id int64, progress int) Result {
	progress = ClampProgress(progress)
	snapshot, hasSnapshot := c.cache.Get(ctx, c.userID, id)

	if id < 0 {
		base := snapshot
		if !hasSnapshot {
			base = c.localCopy(ctx, id)
		}
		g := c.applyProgress(base, progress)
		c.cache.Put(ctx, c.userID, g)
		return Result{Goal: &g, Outcome: OutcomeLocal}
	}

	req := progressBody{Progress: progress}
	if progress == 100 && hasSnapshot && snapshot.IsDaily {
		req.LastCompleted = dayString(ptr(CalendarDay(c.today())))
	}
	body, err := c.do(ctx, http.MethodPut, goalPath(id)+"/progress", req, c.timeouts.Write)
	if err != nil {
		if hasSnapshot {
			g := c.applyProgress(snapshot, progress)
			c.cache.Put(ctx, c.userID, g)
			c.log.Warnf("progress write failed, keeping optimistic copy id=%d progress=%d err=%v", id, progress, err)
			return Result{Goal: &g, Outcome: OutcomeFallback, Err: err}
		}
		c.log.Warnf("progress write failed id=%d progress=%d err=%v", id, progress, err)
		if IsNotFound(err) {
			return Result{Outcome: OutcomeNotFound, Err: err}
		}
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	// Some API versions answer with {"message": ...} instead of the row.
	g, decodeErr := decodeSingle(body)
	if decodeErr != nil {
		switch {
		case hasSnapshot:
			g = snapshot
		default:
			if res := c.FetchByID(ctx, id); res.Goal != nil {
				g = *res.Goal
			} else {
				g = finalize(Goal{ID: id, UserID: c.userID, Title: placeholderTitle})
			}
		}
		g = c.applyProgress(g, progress)
	}
	c.cache.Put(ctx, c.userID, g)
	return Result{Goal: &g, Outcome: OutcomeServer}
}

// Create saves a new goal. It never fails from the caller's point of view: if
// the server cannot be reached or rejects the goal, a local-only goal with a
// negative id is returned instead.
func (c *Client) Create(ctx context.Context, d Draft) Result {
	if d.UserID == "" {
		d.UserID = c.userID
	}
	pending := d.Goal(0)
	body, err := c.do(ctx, http.MethodPost, "/goals", encodeGoal(pending), c.timeouts.Write)
	if err == nil {
		g, decodeErr := decodeSingle(body)
		if decodeErr != nil {
			if id, ok := createdID(body); ok {
				g, decodeErr = d.Goal(id), nil
			}
		}
		if decodeErr == nil {
			c.cache.Put(ctx, c.userID, g)
			return Result{Goal: &g, Outcome: OutcomeServer}
		}
		err = fmt.Errorf("create goal: %w", decodeErr)
	}

	g := d.Goal(newLocalID())
	c.cache.Put(ctx, c.userID, g)
	c.log.Warnf("create goal failed, keeping local goal id=%d err=%v", g.ID, err)
	return Result{Goal: &g, Outcome: OutcomeFallback, Err: err}
}

// Update replaces a goal's editable fields. Local-only goals are updated in
// the cache; failed writes fall back to the supplied goal except on 404.
func (c *Client) Update(ctx context.Context, g Goal) Result {
	g = finalize(g).WithProgress(g.Progress)
	if g.UserID == "" {
		g.UserID = c.userID
	}
	if g.IsLocal() {
		c.cache.Put(ctx, c.userID, g)
		return Result{Goal: &g, Outcome: OutcomeLocal}
	}

	body, err := c.do(ctx, http.MethodPut, goalPath(g.ID), encodeGoal(g), c.timeouts.Write)
	if err != nil {
		if IsNotFound(err) {
			return Result{Outcome: OutcomeNotFound, Err: err}
		}
		c.cache.Put(ctx, c.userID, g)
		c.log.Warnf("update goal failed, keeping optimistic copy id=%d err=%v", g.ID, err)
		return Result{Goal: &g, Outcome: OutcomeFallback, Err: err}
	}
	if updated, decodeErr := decodeSingle(body); decodeErr == nil {
		g = updated
	}
	c.cache.Put(ctx, c.userID, g)
	return Result{Goal: &g, Outcome: OutcomeServer}
}

// Remove deletes a goal; Result.OK reports whether it counts as deleted.
// Local-only goals are removed immediately. A 5xx or transport failure is
// treated as deleted because deletes are safe to retry.
func (c *Client) Remove(ctx context.Context, id int64) Result {
	if id < 0 {
		c.cache.Delete(ctx, c.userID, id)
		return Result{Outcome: OutcomeLocal}
	}
	_, err := c.do(ctx, http.MethodDelete, goalPath(id), nil, c.timeouts.Delete)
	switch {
	case err == nil:
		c.cache.Delete(ctx, c.userID, id)
		return Result{Outcome: OutcomeServer}
	case IsServerError(err) || IsTransport(err):
		c.cache.Delete(ctx, c.userID, id)
		c.log.Warnf("delete goal failed, treating as deleted id=%d err=%v", id, err)
		return Result{Outcome: OutcomeFallback, Err: err}
	case IsNotFound(err):
		return Result{Outcome: OutcomeNotFound, Err: err}
	default:
		c.log.Warnf("delete goal rejected id=%d err=%v", id, err)
		return Result{Outcome: OutcomeFailed, Err: err}
	}
}

// Current returns the goal as the server has it, or the cached snapshot when
// the server cannot be read. A 404 is not answered from the cache.
func (c *Client) Current(ctx context.Context, id int64) Result {
	res := c.FetchByID(ctx, id)
	if res.Goal != nil || res.Outcome == OutcomeNotFound {
		return res
	}
	if g, ok := c.cache.Get(ctx, c.userID, id); ok {
		c.log.Warnf("goal read failed, using snapshot id=%d err=%v", id, res.Err)
		return Result{Goal: &g, Outcome: OutcomeFallback, Err: res.Err}
	}
	return res
}

// ToggleComplete flips a goal between complete (100) and not started (0).
// Rewards are evaluated only when the goal turns complete, and are granted
// only once the server confirmed the write; an unconfirmed completion that
// would earn a reward comes back with Reward.Pending set instead.
func (c *Client) ToggleComplete(ctx context.Context, id int64, xp int) (Result, Reward, bool) {
	current := c.Current(ctx, id)
	if current.Goal == nil {
		return current, Reward{}, false
	}
	before := *current.Goal
	target := 100
	if before.IsCompleted {
		target = 0
	}
	res := c.SetProgress(ctx, id, target)
	if res.Goal == nil {
		return res, Reward{}, false
	}
	reward, transitioned := EvaluateCompletion(before, *res.Goal, c.today(), xp)
	if res.Outcome == OutcomeFallback && reward.Eligible {
		reward = Reward{Pending: true}
	}
	return res, reward, transitioned
}

func (c *Client) applyProgress(g Goal, progress int) Goal {
	g = g.WithProgress(progress)
	if g.IsCompleted && g.IsDaily {
		g.LastCompleted = ptr(CalendarDay(c.today()))
	}
	return g
}

const placeholderTitle = "Untitled goal"

// localCopy returns the cached copy of a local-only goal or a minimal stand-in.
func (c *Client) localCopy(ctx context.Context, id int64) Goal {
	if g, ok := c.cache.Get(ctx, c.userID, id); ok {
		return g
	}
	return finalize(Goal{ID: id, UserID: c.userID, Title: placeholderTitle})
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := c.requestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 300)}
	}
	return body, nil
}

func decodeSingle(body []byte) (Goal, error) {
	raw, err := unwrapObject(body)
	if err != nil {
		return Goal{}, err
	}
	return DecodeGoal(raw)
}

func goalPath(id int64) string {
	return "/goals/" + strconv.FormatInt(id, 10)
}

// newLocalID returns a random negative id for a goal the server never saw.
func newLocalID() int64 {
	return -(rand.Int64N(1<<53) + 1)
}

func ptr[T any](v T) *T {
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
