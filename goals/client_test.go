package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/cppla/goaltrack/kvstore"
)

// Thursday
var testNow = time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC)

// fakeGoalAPI serves the remote goal API from memory. fail forces every
// response to a status; failSingle does so for GET /goals/{id} only.
type fakeGoalAPI struct {
	mu         sync.Mutex
	rows       map[int64]map[string]any
	nextID     int64
	fail       int
	failSingle int
	lastAuth   string
	lastBody   map[string]any
	calls      map[string]int
}

func newFakeGoalAPI(t *testing.T) (*fakeGoalAPI, *httptest.Server) {
	t.Helper()
	api := &fakeGoalAPI{rows: map[int64]map[string]any{}, nextID: 100, calls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /goals", api.list)
	mux.HandleFunc("POST /goals", api.create)
	mux.HandleFunc("GET /goals/{id}", api.get)
	mux.HandleFunc("PUT /goals/{id}", api.update)
	mux.HandleFunc("PUT /goals/{id}/progress", api.progress)
	mux.HandleFunc("DELETE /goals/{id}", api.remove)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.lastAuth = r.Header.Get("Authorization")
		api.calls[r.Method+" "+r.URL.Path]++
		fail := api.fail
		api.mu.Unlock()
		if fail != 0 {
			http.Error(w, `{"error":"forced"}`, fail)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeGoalAPI) seed(row map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, _ := row["id"].(int)
	a.rows[int64(id)] = row
}

func (a *fakeGoalAPI) setFail(status int) {
	a.mu.Lock()
	a.fail = status
	a.mu.Unlock()
}

func (a *fakeGoalAPI) callCount(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *fakeGoalAPI) row(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	row, ok := a.rows[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "goal not found"})
	}
	return row, ok
}

func (a *fakeGoalAPI) list(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	user := r.URL.Query().Get("userId")
	out := []map[string]any{}
	for _, row := range a.rows {
		if fmt.Sprint(row["user_id"]) == user {
			out = append(out, row)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (a *fakeGoalAPI) get(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSingle != 0 {
		writeJSON(w, a.failSingle, map[string]any{"error": "forced"})
		return
	}
	if row, ok := a.row(w, r); ok {
		writeJSON(w, http.StatusOK, row)
	}
}

func (a *fakeGoalAPI) create(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	a.nextID++
	body["id"] = a.nextID
	a.rows[a.nextID] = body
	a.lastBody = body
	writeJSON(w, http.StatusCreated, map[string]any{"data": body})
}

func (a *fakeGoalAPI) update(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.row(w, r)
	if !ok {
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	for k, v := range body {
		row[k] = v
	}
	a.lastBody = body
	writeJSON(w, http.StatusOK, map[string]any{"message": "updated"})
}

func (a *fakeGoalAPI) progress(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.row(w, r)
	if !ok {
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	a.lastBody = body
	row["progress"] = body["progress"]
	row["is_completed"] = body["progress"] == float64(100)
	if lc, ok := body["last_completed"]; ok {
		row["last_completed"] = lc
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *fakeGoalAPI) remove(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.row(w, r); !ok {
		return
	}
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	delete(a.rows, id)
	w.WriteHeader(http.StatusNoContent)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return newUserClient(t, baseURL, "u1", NewCache(kvstore.NewMemory(), zaptest.NewLogger(t).Sugar()))
}

func newUserClient(t *testing.T, baseURL, userID string, cache *Cache) *Client {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	return NewClient(Options{
		BaseURL:  baseURL,
		UserID:   userID,
		Tokens:   oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}),
		Cache:    cache,
		Timeouts: Timeouts{Read: time.Second, Write: time.Second, Delete: time.Second},
		Logger:   log,
		Now:      func() time.Time { return testNow },
		Location: time.UTC,
	})
}

func stretchRow() map[string]any {
	return map[string]any{"id": 5, "user_id": "u1", "title": "Stretch", "is_daily": 1, "routine_days": "[1,3,4]", "progress": 0, "is_completed": 0, "coin_reward": 3}
}

func TestFetchAllSendsBearerAndCaches(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	api.seed(map[string]any{"id": 6, "user_id": "u1", "progress": 10})
	api.seed(map[string]any{"id": 7, "user_id": "someone-else", "title": "Other"})
	c := newTestClient(t, srv.URL)

	res := c.FetchAll(context.Background(), "u1")
	if res.Outcome != OutcomeServer || len(res.Goals) != 1 || res.Dropped != 1 {
		t.Fatalf("FetchAll() = %+v", res)
	}
	if api.lastAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", api.lastAuth)
	}
	if _, ok := c.cache.Get(context.Background(), "u1", 5); !ok {
		t.Fatal("expected fetched goal to be cached")
	}
}

func TestFetchAllFailureReturnsEmptyList(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.setFail(http.StatusInternalServerError)
	res := newTestClient(t, srv.URL).FetchAll(context.Background(), "u1")
	if res.Outcome != OutcomeFailed || res.Goals == nil || len(res.Goals) != 0 || !IsServerError(res.Err) {
		t.Fatalf("FetchAll() = %+v", res)
	}
}

func TestFetchAllTransportFailure(t *testing.T) {
	_, srv := newFakeGoalAPI(t)
	srv.Close()
	res := newTestClient(t, srv.URL).FetchAll(context.Background(), "u1")
	if res.Outcome != OutcomeFailed || !IsTransport(res.Err) {
		t.Fatalf("FetchAll() = %+v", res)
	}
}

func TestFetchByID(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if res := c.FetchByID(ctx, 5); res.Outcome != OutcomeServer || res.Goal.Title != "Stretch" {
		t.Fatalf("FetchByID(5) = %+v", res)
	}
	if res := c.FetchByID(ctx, 404); res.Outcome != OutcomeNotFound || res.Goal != nil || !IsNotFound(res.Err) {
		t.Fatalf("FetchByID(404) = %+v", res)
	}
	if res := c.FetchByID(ctx, 0); res.Outcome != OutcomeNotFound {
		t.Fatalf("FetchByID(0) = %+v", res)
	}

	api.mu.Lock()
	api.failSingle = http.StatusBadGateway
	api.mu.Unlock()
	res := c.FetchByID(ctx, 5)
	if res.Outcome != OutcomeFallback || res.Goal == nil || res.Goal.ID != 5 {
		t.Fatalf("FetchByID(5) on 502 = %+v", res)
	}
	if res := c.FetchByID(ctx, 99); res.Outcome != OutcomeFailed {
		t.Fatalf("FetchByID(99) on 502 = %+v", res)
	}
}

func TestSetProgressClamps(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(map[string]any{"id": 5, "user_id": "u1", "title": "Read", "is_daily": 0, "progress": 20})
	c := newTestClient(t, srv.URL)

	res := c.SetProgress(context.Background(), 5, 150)
	if res.Outcome != OutcomeServer || res.Goal.Progress != 100 || !res.Goal.IsCompleted {
		t.Fatalf("SetProgress(5, 150) = %+v", res)
	}
	res = c.SetProgress(context.Background(), 5, -20)
	if res.Goal.Progress != 0 || res.Goal.IsCompleted {
		t.Fatalf("SetProgress(5, -20) = %+v", res.Goal)
	}
}

func TestSetProgressSendsLastCompletedForDailyGoal(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	c.FetchAll(ctx, "u1")

	res := c.SetProgress(ctx, 5, 100)
	if res.Outcome != OutcomeServer {
		t.Fatalf("SetProgress() = %+v", res)
	}
	if got := api.lastBody["last_completed"]; got != "2025-04-10" {
		t.Fatalf("last_completed = %v", got)
	}
	if res.Goal.LastCompleted == nil || FormatDay(*res.Goal.LastCompleted) != "2025-04-10" {
		t.Fatalf("goal last completed = %v", res.Goal.LastCompleted)
	}
}

func TestSetProgressFallsBackToSnapshot(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	c.FetchAll(ctx, "u1")

	api.setFail(http.StatusServiceUnavailable)
	res := c.SetProgress(ctx, 5, 40)
	if res.Outcome != OutcomeFallback || res.Goal == nil || res.Goal.Progress != 40 || res.Err == nil {
		t.Fatalf("SetProgress() = %+v", res)
	}
	if cached, _ := c.cache.Get(ctx, "u1", 5); cached.Progress != 40 {
		t.Fatalf("cached progress = %d", cached.Progress)
	}
}

func TestSetProgressWithoutSnapshot(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	c := newTestClient(t, srv.URL)
	if res := c.SetProgress(context.Background(), 8, 10); res.Outcome != OutcomeNotFound {
		t.Fatalf("SetProgress() on 404 = %+v", res)
	}
	api.setFail(http.StatusInternalServerError)
	if res := c.SetProgress(context.Background(), 8, 10); res.Outcome != OutcomeFailed || res.Goal != nil {
		t.Fatalf("SetProgress() on 500 = %+v", res)
	}
}

func TestCreateThenFetchRoundTrip(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	created := c.Create(ctx, Draft{Title: "Read", Category: "learning", IsDaily: true, RoutineDays: []time.Weekday{3, 1}})
	if created.Outcome != OutcomeServer || created.Goal.ID <= 0 {
		t.Fatalf("Create() = %+v", created)
	}
	if api.lastBody["routine_days"] != "[1,3]" || api.lastBody["user_id"] != "u1" {
		t.Fatalf("create body = %v", api.lastBody)
	}

	fetched := c.FetchByID(ctx, created.Goal.ID)
	if fetched.Outcome != OutcomeServer {
		t.Fatalf("FetchByID() = %+v", fetched)
	}
	got, want := fetched.Goal, created.Goal
	if got.Title != want.Title || got.Category != want.Category || got.IsDaily != want.IsDaily || fmt.Sprint(got.RoutineDays) != fmt.Sprint(want.RoutineDays) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestCreateFallsBackToLocalGoal(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.setFail(http.StatusServiceUnavailable)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	res := c.Create(ctx, Draft{Title: "Offline", Category: "health"})
	if res.Outcome != OutcomeFallback || res.Goal == nil || !res.Goal.IsLocal() {
		t.Fatalf("Create() = %+v", res)
	}
	id := res.Goal.ID

	before := api.callCount("GET /goals/" + strconv.FormatInt(id, 10))
	local := c.FetchByID(ctx, id)
	if local.Outcome != OutcomeLocal || local.Goal.Title != "Offline" {
		t.Fatalf("FetchByID(local) = %+v", local)
	}
	if api.callCount("GET /goals/"+strconv.FormatInt(id, 10)) != before {
		t.Fatal("local goal must not reach the server")
	}

	updated := c.SetProgress(ctx, id, 60)
	if updated.Outcome != OutcomeLocal || updated.Goal.Progress != 60 {
		t.Fatalf("SetProgress(local) = %+v", updated)
	}

	if removed := c.Remove(ctx, id); removed.Outcome != OutcomeLocal || !removed.OK() {
		t.Fatalf("Remove(local) = %+v", removed)
	}
	if _, ok := c.cache.Get(ctx, "u1", id); ok {
		t.Fatal("removed local goal still cached")
	}
}

func TestCreateAcceptsIDOnlyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"message": "created", "insertId": 77})
	}))
	defer srv.Close()

	res := newTestClient(t, srv.URL).Create(context.Background(), Draft{Title: "Plan"})
	if res.Outcome != OutcomeServer || res.Goal.ID != 77 || res.Goal.Title != "Plan" {
		t.Fatalf("Create() = %+v", res)
	}
}

func TestUpdate(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	g := Draft{UserID: "u1", Title: "Stretch longer", IsDaily: true, RoutineDays: []time.Weekday{2}}.Goal(5)
	res := c.Update(ctx, g)
	if res.Outcome != OutcomeServer || res.Goal.Title != "Stretch longer" {
		t.Fatalf("Update() = %+v", res)
	}
	if api.lastBody["routine_days"] != "[2]" {
		t.Fatalf("update body = %v", api.lastBody)
	}

	if res := c.Update(ctx, Draft{Title: "Ghost"}.Goal(404)); res.Outcome != OutcomeNotFound {
		t.Fatalf("Update(404) = %+v", res)
	}

	api.setFail(http.StatusBadGateway)
	if res := c.Update(ctx, g); res.Outcome != OutcomeFallback || res.Goal.Title != "Stretch longer" {
		t.Fatalf("Update() on 502 = %+v", res)
	}
}

func TestRemove(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if res := c.Remove(ctx, 5); res.Outcome != OutcomeServer || !res.OK() {
		t.Fatalf("Remove(5) = %+v", res)
	}
	if res := c.Remove(ctx, 5); res.Outcome != OutcomeNotFound || res.OK() {
		t.Fatalf("Remove(5) again = %+v", res)
	}
	api.setFail(http.StatusInternalServerError)
	if res := c.Remove(ctx, 6); res.Outcome != OutcomeFallback || !res.OK() {
		t.Fatalf("Remove(6) on 500 = %+v", res)
	}
	api.setFail(http.StatusForbidden)
	if res := c.Remove(ctx, 6); res.Outcome != OutcomeFailed || res.OK() {
		t.Fatalf("Remove(6) on 403 = %+v", res)
	}
}

func TestToggleComplete(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	res, reward, transitioned := c.ToggleComplete(ctx, 5, 10)
	if res.Outcome != OutcomeServer || !res.Goal.IsCompleted || !transitioned {
		t.Fatalf("first toggle = %+v transitioned=%v", res, transitioned)
	}
	// Thursday is a scheduled day for the goal
	if !reward.Eligible || reward.Coins != 3 || reward.XP != 10 {
		t.Fatalf("reward = %+v", reward)
	}

	res, reward, transitioned = c.ToggleComplete(ctx, 5, 10)
	if res.Goal.IsCompleted || res.Goal.Progress != 0 || transitioned || reward.Eligible {
		t.Fatalf("second toggle = %+v reward=%+v transitioned=%v", res, reward, transitioned)
	}
}

func TestRequestIDHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/", RequestID: "req-1"})
	c.FetchAll(context.Background(), "u1")
	if got != "req-1" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestSharedCacheDoesNotLeakAcrossUsers(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(map[string]any{"id": 5, "user_id": "alice", "title": "Alice private goal", "description": "secret", "progress": 20})
	cache := NewCache(kvstore.NewMemory(), zaptest.NewLogger(t).Sugar())
	alice := newUserClient(t, srv.URL, "alice", cache)
	bob := newUserClient(t, srv.URL, "bob", cache)
	ctx := context.Background()

	if res := alice.FetchByID(ctx, 5); res.Outcome != OutcomeServer {
		t.Fatalf("alice FetchByID() = %+v", res)
	}

	api.setFail(http.StatusBadGateway)
	res := bob.SetProgress(ctx, 5, 50)
	if res.Goal != nil || res.Outcome != OutcomeFailed {
		t.Fatalf("bob SetProgress() = %+v", res)
	}
	if res, _, _ := bob.ToggleComplete(ctx, 5, 10); res.Goal != nil {
		t.Fatalf("bob ToggleComplete() returned %+v", res.Goal)
	}
	if got, _ := cache.Get(ctx, "alice", 5); got.Progress != 20 || got.Description != "secret" {
		t.Fatalf("alice snapshot changed: %+v", got)
	}
}

func TestToggleCompleteReadsServerBeforeSnapshot(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	c.FetchAll(ctx, "u1")

	// completed on another device; the local snapshot still says 0
	api.mu.Lock()
	api.rows[5]["progress"] = 100
	api.rows[5]["is_completed"] = 1
	api.mu.Unlock()

	res, reward, transitioned := c.ToggleComplete(ctx, 5, 10)
	if res.Goal == nil || res.Goal.IsCompleted || transitioned || reward.Eligible {
		t.Fatalf("toggle = %+v reward=%+v transitioned=%v", res, reward, transitioned)
	}
}

func TestToggleCompleteWithholdsRewardUntilConfirmed(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	c.FetchAll(ctx, "u1")

	api.setFail(http.StatusServiceUnavailable)
	res, reward, transitioned := c.ToggleComplete(ctx, 5, 10)
	if res.Outcome != OutcomeFallback || !res.Goal.IsCompleted || !transitioned {
		t.Fatalf("toggle = %+v transitioned=%v", res, transitioned)
	}
	if reward.Eligible || !reward.Pending || reward.Coins != 0 || reward.XP != 0 {
		t.Fatalf("reward = %+v", reward)
	}
}

func TestCurrentFallsBackToSnapshot(t *testing.T) {
	api, srv := newFakeGoalAPI(t)
	api.seed(stretchRow())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	c.FetchAll(ctx, "u1")

	api.setFail(http.StatusServiceUnavailable)
	if res := c.Current(ctx, 5); res.Outcome != OutcomeFallback || res.Goal.Title != "Stretch" {
		t.Fatalf("Current(5) = %+v", res)
	}
	if res := c.Current(ctx, 6); res.Outcome != OutcomeFailed || res.Goal != nil {
		t.Fatalf("Current(6) = %+v", res)
	}
}
