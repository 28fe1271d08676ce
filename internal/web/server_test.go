package web

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schoolmaps/studyengine/internal/session"
	"github.com/schoolmaps/studyengine/internal/store"
)

var sessionIDPattern = regexp.MustCompile(`/study/([0-9a-f-]+)/`)

func newTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	// Store and engine share one frozen clock: a card created through a
	// handler must be immediately due when the engine asks.
	now := func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	db, err := store.OpenConfig(filepath.Join(t.TempDir(), "test.db"), store.Config{Now: now})
	if err != nil {
		t.Fatalf("OpenConfig: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := session.NewEngine(db, session.Config{
		Now:  now,
		Rand: rand.New(rand.NewSource(1)),
	})
	return NewServer(db, engine, []string{"Biology", "History"}), db
}

func do(t *testing.T, srv *Server, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSubjectAndSetPages(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/subjects", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /subjects: status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Biology") || !strings.Contains(body, "History") {
		t.Errorf("subject page missing subjects: %q", body)
	}

	rec = do(t, srv, http.MethodPost, "/sets", url.Values{
		"name":    {"Cells"},
		"subject": {"Biology"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /sets: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Cells") {
		t.Errorf("set list after create missing new set: %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/subjects/History/sets", nil)
	if strings.Contains(rec.Body.String(), "Cells") {
		t.Error("set created under Biology appeared under History")
	}
}

func TestCreateSetValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/sets", url.Values{"subject": {"Biology"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status %d, want 400", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/sets", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /sets: status %d, want 405", rec.Code)
	}
}

func TestAddCardsDropsIncompleteRows(t *testing.T) {
	srv, db := newTestServer(t)
	set, err := db.CreateSet(context.Background(), "Cells", "Biology")
	if err != nil {
		t.Fatalf("CreateSet: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/cards", url.Values{
		"question": {"What is a ribosome?", "", "Orphan question"},
		"answer":   {"A protein factory", "Orphan answer", ""},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST cards: status %d: %s", rec.Code, rec.Body.String())
	}

	got, err := db.GetSet(context.Background(), set.ID)
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	if got.CardCount != 1 {
		t.Errorf("card count = %d, want 1 (incomplete rows dropped)", got.CardCount)
	}
}

func TestStudyGuards(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	empty, _ := db.CreateSet(ctx, "Empty", "Biology")
	rec := do(t, srv, http.MethodPost, "/sets/"+empty.ID+"/study", url.Values{"mode": {"learn"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No cards yet") {
		t.Errorf("empty set learn: status %d body %q", rec.Code, rec.Body.String())
	}

	one, _ := db.CreateSet(ctx, "One", "Biology")
	if _, err := db.AddCards(ctx, one.ID, []store.NewCard{{Question: "q", Answer: "a"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}
	rec = do(t, srv, http.MethodPost, "/sets/"+one.ID+"/study", url.Values{"mode": {"mc"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "at least 2 cards") {
		t.Errorf("one-card mc: status %d body %q", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/sets/"+one.ID+"/study", url.Values{"mode": {"speed"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: status %d, want 400", rec.Code)
	}
}

func TestLearnSessionOverHTTP(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	_, err := db.AddCards(ctx, set.ID, []store.NewCard{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	})
	if err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"learn"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("enter learn: status %d: %s", rec.Code, rec.Body.String())
	}
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID in card fragment: %q", rec.Body.String())
	}
	sid := m[1]

	// Answer both cards correctly; the second feedback drains the queue and,
	// with nothing left due, lands on the all-learned view.
	rec = do(t, srv, http.MethodPost, "/study/"+sid+"/feedback", url.Values{"knew": {"1"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), sid) {
		t.Fatalf("first feedback should show the next card: status %d body %q", rec.Code, rec.Body.String())
	}
	rec = do(t, srv, http.MethodPost, "/study/"+sid+"/feedback", url.Values{"knew": {"1"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "All caught up") {
		t.Fatalf("second feedback should end on all-learned: status %d body %q", rec.Code, rec.Body.String())
	}

	// The session is gone once it reaches a terminal view.
	rec = do(t, srv, http.MethodPost, "/study/"+sid+"/feedback", url.Values{"knew": {"1"}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("feedback after session end: status %d, want 404", rec.Code)
	}
}

func TestCramSessionOverHTTP(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"cram"}})
	sid := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if sid == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}

	do(t, srv, http.MethodPost, "/study/"+sid[1]+"/advance", nil)
	rec = do(t, srv, http.MethodPost, "/study/"+sid[1]+"/advance", nil)
	body := rec.Body.String()
	if !strings.Contains(body, "Session complete") || !strings.Contains(body, "2 / 2") {
		t.Errorf("cram summary should report a full score: %q", body)
	}
}

func TestMultipleChoiceOverHTTP(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
	}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"mc"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}
	sid := m[1]

	rec = do(t, srv, http.MethodPost, "/study/"+sid+"/choice", url.Values{"choice": {"a2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("choice: status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "delay:1.2s") {
		t.Errorf("feedback fragment should auto-advance after the delay: %q", body)
	}
	if !strings.Contains(body, "/study/"+sid+"/card") {
		t.Errorf("feedback fragment should poll the session for the next card: %q", body)
	}
}

func TestQuitReturnsToModeSelection(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{{Question: "q1", Answer: "a1"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"learn"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/study/"+m[1]+"/quit", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Learn") {
		t.Errorf("quit should land on mode selection: status %d body %q", rec.Code, rec.Body.String())
	}
	rec = do(t, srv, http.MethodGet, "/study/"+m[1]+"/card", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("card after quit: status %d, want 404", rec.Code)
	}
}

func TestStudyClock(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{{Question: "q1", Answer: "a1"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"learn"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/study/"+m[1]+"/clock", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clock: status %d", rec.Code)
	}
	if !regexp.MustCompile(`\d+:\d{2}`).MatchString(rec.Body.String()) {
		t.Errorf("clock fragment should show minutes:seconds, got %q", rec.Body.String())
	}
}

func TestConcurrentFeedbackWritesEachCardOnce(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"learn"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}
	sid := m[1]

	// A double-tap on the feedback buttons arrives as near-simultaneous
	// posts. Serialized transitions apply one scheduler write per card; a
	// race would grade the same front card twice and push its interval to 6.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(t, srv, http.MethodPost, "/study/"+sid+"/feedback", url.Values{"knew": {"1"}})
		}()
	}
	wg.Wait()

	cards, err := db.QueryAll(ctx, set.ID)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	for _, c := range cards {
		if c.Interval != 1 {
			t.Errorf("card %s interval = %d, want 1 (exactly one review applied)", c.Question, c.Interval)
		}
	}
}

func TestSummaryOffersStudyAgainInSameMode(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{{Question: "q1", Answer: "a1"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"cram"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/study/"+m[1]+"/advance", nil)
	body := rec.Body.String()
	if !strings.Contains(body, "Study again") {
		t.Errorf("summary should offer studying again: %q", body)
	}
	if !strings.Contains(body, `"mode": "cram"`) {
		t.Errorf("study-again should re-enter the finished session's mode: %q", body)
	}
}

func TestAllLearnedOffersResetAndRestart(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{{Question: "q1", Answer: "a1"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}

	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"learn"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}
	rec = do(t, srv, http.MethodPost, "/study/"+m[1]+"/feedback", url.Values{"knew": {"1"}})
	if !strings.Contains(rec.Body.String(), "Reset progress and start over") {
		t.Fatalf("all-learned view should offer a reset path: %q", rec.Body.String())
	}

	// Restarting resets scheduling state and drops straight into Learn.
	rec = do(t, srv, http.MethodPost, "/sets/"+set.ID+"/restart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart: status %d", rec.Code)
	}
	if sessionIDPattern.FindStringSubmatch(rec.Body.String()) == nil {
		t.Fatalf("restart should land on a learn card: %q", rec.Body.String())
	}
	cards, err := db.QueryAll(ctx, set.ID)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if cards[0].Interval != 0 || cards[0].EaseFactor != 2.5 {
		t.Errorf("restart should reset scheduling state, got interval %d ease %.2f",
			cards[0].Interval, cards[0].EaseFactor)
	}
}

func TestBackNavigation(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")

	t.Run("sets to subjects", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/back", url.Values{"view": {"sets"}})
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Subjects") {
			t.Errorf("status %d body %q", rec.Code, rec.Body.String())
		}
	})
	t.Run("mode selection to sets", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/back", url.Values{
			"view": {"mode-selection"}, "subject": {"Biology"},
		})
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Cells") {
			t.Errorf("status %d body %q", rec.Code, rec.Body.String())
		}
	})
	t.Run("summary to mode selection", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/back", url.Values{
			"view": {"summary"}, "set_id": {set.ID},
		})
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Learn") {
			t.Errorf("status %d body %q", rec.Code, rec.Body.String())
		}
	})
	t.Run("unknown view rejected", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/back", url.Values{"view": {"lobby"}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status %d, want 400", rec.Code)
		}
	})
}

func TestClockPauseResume(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{{Question: "q1", Answer: "a1"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}
	rec := do(t, srv, http.MethodPost, "/sets/"+set.ID+"/study", url.Values{"mode": {"cram"}})
	m := sessionIDPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session ID: %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/study/"+m[1]+"/pause", nil)
	if !strings.Contains(rec.Body.String(), "Resume") {
		t.Errorf("paused clock should offer resume: %q", rec.Body.String())
	}
	rec = do(t, srv, http.MethodPost, "/study/"+m[1]+"/resume", nil)
	if !strings.Contains(rec.Body.String(), "Pause") {
		t.Errorf("running clock should offer pause: %q", rec.Body.String())
	}
}

func TestWatchSetStreamsCardCounts(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")

	reqCtx, cancel := context.WithCancel(ctx)
	req := httptest.NewRequest(http.MethodGet, "/sets/"+set.ID+"/watch", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeHTTP(rec, req)
	}()

	// Give the handler time to subscribe, then commit a write to the set.
	time.Sleep(50 * time.Millisecond)
	if _, err := db.AddCards(ctx, set.ID, []store.NewCard{{Question: "q1", Answer: "a1"}}); err != nil {
		t.Fatalf("AddCards: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: cards") || !strings.Contains(body, "data: 1 cards") {
		t.Errorf("watch stream should carry the new card count, got %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestWatchUnknownSet(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/sets/nope/watch", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("watch on missing set: status %d, want 404", rec.Code)
	}
}

func TestDeleteSetCascades(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	set, _ := db.CreateSet(ctx, "Cells", "Biology")
	rec := do(t, srv, http.MethodDelete, "/sets/"+set.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE set: status %d", rec.Code)
	}
	if _, err := db.GetSet(ctx, set.ID); err == nil {
		t.Error("set still present after delete")
	}
}
