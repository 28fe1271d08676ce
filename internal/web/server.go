package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schoolmaps/studyengine/internal/domain"
	"github.com/schoolmaps/studyengine/internal/flow"
	"github.com/schoolmaps/studyengine/internal/session"
	"github.com/schoolmaps/studyengine/internal/store"
	"github.com/schoolmaps/studyengine/internal/timer"
)

// studyPeriod is how long the study clock of a single session runs.
const studyPeriod = 10 * time.Minute

//go:embed all:static
var staticFiles embed.FS

//go:embed all:templates
var templateFiles embed.FS

// activeSession ties a running study session to the set being studied so
// handlers can render set details without re-querying the store, plus the
// session's study clock. Session is not safe for concurrent use, so mu is
// held across every card transition; near-simultaneous posts (a double-tap
// on the feedback buttons) serialize here and the second one hits the
// session's stale-input no-op instead of racing the queue.
type activeSession struct {
	mu    sync.Mutex
	sess  *session.Session
	set   *domain.Set
	clock *timer.Countdown
	stop  context.CancelFunc
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	store     store.CardStore
	engine    *session.Engine
	subjects  []string
	router    *http.ServeMux
	templates *template.Template

	mu       sync.Mutex
	sessions map[string]*activeSession
}

// NewServer creates and configures a new server. subjects is the list of
// study subjects offered on the entry screen.
func NewServer(cs store.CardStore, engine *session.Engine, subjects []string) *Server {
	// Parse templates
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		log.Fatalf("Failed to parse templates: %v", err)
	}

	s := &Server{
		store:     cs,
		engine:    engine,
		subjects:  subjects,
		router:    http.NewServeMux(),
		templates: tpl,
		sessions:  make(map[string]*activeSession),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("Failed to create sub-filesystem for static assets: %v", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	s.router.Handle("/static/", http.StripPrefix("/static/", fileServer))
	s.router.Handle("/", fileServer)

	// HTMX-based routes
	s.router.HandleFunc("/subjects", s.handleGetSubjects())
	s.router.HandleFunc("/subjects/", s.handleGetSubjectSets())
	s.router.HandleFunc("/sets", s.handlePostSet())
	s.router.HandleFunc("/sets/", s.handleSet())
	s.router.HandleFunc("/study/", s.handleStudy())
	s.router.HandleFunc("/back", s.handleBack())
}

// handleGetSubjects renders the subject picker, the root of the study flow.
func (s *Server) handleGetSubjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.templates.ExecuteTemplate(w, "subjects", map[string]interface{}{
			"Subjects": s.subjects,
		})
	}
}

// handleGetSubjectSets renders the set list for one subject.
func (s *Server) handleGetSubjectSets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/subjects/"), "/sets")
		s.renderSetList(w, r, subject)
	}
}

// handlePostSet creates an empty set and re-renders the set list.
func (s *Server) handlePostSet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := strings.TrimSpace(r.PostFormValue("name"))
		subject := r.PostFormValue("subject")
		if name == "" || subject == "" {
			http.Error(w, "Set name and subject are required", http.StatusBadRequest)
			return
		}

		if _, err := s.store.CreateSet(r.Context(), name, subject); err != nil {
			log.Printf("Error creating set %q: %v", name, err)
			http.Error(w, "Failed to create set", http.StatusInternalServerError)
			return
		}
		s.renderSetList(w, r, subject)
	}
}

// handleSet dispatches the /sets/{id}/... sub-routes: mode selection, card
// management, progress reset, study entry and deletion.
func (s *Server) handleSet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/sets/")
		setID, action, _ := strings.Cut(rest, "/")
		if setID == "" {
			http.NotFound(w, r)
			return
		}

		switch {
		case action == "" && r.Method == http.MethodDelete:
			s.deleteSet(w, r, setID)
		case action == "modes" && r.Method == http.MethodGet:
			s.showModeSelection(w, r, setID, "")
		case action == "manage" && r.Method == http.MethodGet:
			s.showManage(w, r, setID)
		case action == "cards" && r.Method == http.MethodPost:
			s.addCards(w, r, setID)
		case action == "reset" && r.Method == http.MethodPost:
			s.resetProgress(w, r, setID)
		case action == "study" && r.Method == http.MethodPost:
			s.enterStudy(w, r, setID)
		case action == "restart" && r.Method == http.MethodPost:
			s.restartLearn(w, r, setID)
		case action == "watch" && r.Method == http.MethodGet:
			s.watchSet(w, r, setID)
		default:
			http.NotFound(w, r)
		}
	}
}

// handleBack walks one navigation level up the flow state machine and
// renders the view it lands on.
func (s *Server) handleBack() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		view, ok := flow.ParseView(r.PostFormValue("view"))
		if !ok {
			http.Error(w, "Unknown view", http.StatusBadRequest)
			return
		}
		s.renderBack(w, r, view, r.PostFormValue("set_id"), r.PostFormValue("subject"))
	}
}

// renderBack renders the view one hop up from the given one.
func (s *Server) renderBack(w http.ResponseWriter, r *http.Request, from flow.View, setID, subject string) {
	switch flow.Back(from) {
	case flow.ModeSelection:
		s.showModeSelection(w, r, setID, "")
	case flow.Sets:
		s.renderSetList(w, r, subject)
	default:
		s.templates.ExecuteTemplate(w, "subjects", map[string]interface{}{
			"Subjects": s.subjects,
		})
	}
}

func (s *Server) deleteSet(w http.ResponseWriter, r *http.Request, setID string) {
	set, err := s.store.GetSet(r.Context(), setID)
	if err != nil {
		s.setNotFound(w, r, setID, err)
		return
	}
	if err := s.store.DeleteSet(r.Context(), setID); err != nil {
		log.Printf("Error deleting set %s: %v", setID, err)
		http.Error(w, "Failed to delete set", http.StatusInternalServerError)
		return
	}
	s.renderSetList(w, r, set.Subject)
}

func (s *Server) showModeSelection(w http.ResponseWriter, r *http.Request, setID, notice string) {
	set, err := s.store.GetSet(r.Context(), setID)
	if err != nil {
		s.setNotFound(w, r, setID, err)
		return
	}
	s.templates.ExecuteTemplate(w, "modes", map[string]interface{}{
		"Set":    set,
		"Notice": notice,
	})
}

func (s *Server) showManage(w http.ResponseWriter, r *http.Request, setID string) {
	set, err := s.store.GetSet(r.Context(), setID)
	if err != nil {
		s.setNotFound(w, r, setID, err)
		return
	}
	s.templates.ExecuteTemplate(w, "manage", map[string]interface{}{
		"Set": set,
	})
}

// addCards inserts the non-empty question/answer pairs of the manage form.
// Rows missing either side are dropped rather than rejected.
func (s *Server) addCards(w http.ResponseWriter, r *http.Request, setID string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	questions := r.PostForm["question"]
	answers := r.PostForm["answer"]

	var cards []store.NewCard
	for i := range questions {
		if i >= len(answers) {
			break
		}
		q := strings.TrimSpace(questions[i])
		a := strings.TrimSpace(answers[i])
		if q != "" && a != "" {
			cards = append(cards, store.NewCard{Question: q, Answer: a})
		}
	}
	if len(cards) == 0 {
		http.Error(w, "No complete cards to save", http.StatusBadRequest)
		return
	}

	if _, err := s.store.AddCards(r.Context(), setID, cards); err != nil {
		log.Printf("Error adding cards to set %s: %v", setID, err)
		http.Error(w, "Failed to add cards", http.StatusInternalServerError)
		return
	}
	s.showManage(w, r, setID)
}

func (s *Server) resetProgress(w http.ResponseWriter, r *http.Request, setID string) {
	if err := s.engine.ResetProgress(r.Context(), setID); err != nil {
		log.Printf("Error resetting progress for set %s: %v", setID, err)
		http.Error(w, "Failed to reset progress", http.StatusInternalServerError)
		return
	}
	s.showModeSelection(w, r, setID, "Progress reset. All cards are due again.")
}

// enterStudy runs the session entry guards and either starts a session or
// renders the guard view the flow machine routes to.
func (s *Server) enterStudy(w http.ResponseWriter, r *http.Request, setID string) {
	mode := domain.Mode(r.PostFormValue("mode"))
	if !mode.Valid() {
		http.Error(w, "Unknown study mode", http.StatusBadRequest)
		return
	}
	s.startSession(w, r, setID, mode)
}

// restartLearn resets every card's scheduling state and drops straight back
// into a Learn session, the way out of the all-learned terminal view.
func (s *Server) restartLearn(w http.ResponseWriter, r *http.Request, setID string) {
	if err := s.engine.ResetProgress(r.Context(), setID); err != nil {
		log.Printf("Error resetting progress for set %s: %v", setID, err)
		http.Error(w, "Failed to reset progress", http.StatusInternalServerError)
		return
	}
	s.startSession(w, r, setID, domain.ModeLearn)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, setID string, mode domain.Mode) {
	set, err := s.store.GetSet(r.Context(), setID)
	if err != nil {
		s.setNotFound(w, r, setID, err)
		return
	}

	sess, err := s.engine.EnterMode(r.Context(), setID, mode)
	view, err := flow.RouteEntry(mode, err)
	if err != nil {
		log.Printf("Error entering %s mode for set %s: %v", mode, setID, err)
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	switch view {
	case flow.NoCards:
		s.templates.ExecuteTemplate(w, "no_cards", map[string]interface{}{"Set": set})
	case flow.AllLearned:
		s.templates.ExecuteTemplate(w, "all_learned", map[string]interface{}{"Set": set})
	case flow.ModeSelection:
		s.showModeSelection(w, r, setID, "You need at least 2 cards in a set for Multiple Choice.")
	default:
		clock := timer.New(studyPeriod, timer.Config{})
		clockCtx, stop := context.WithCancel(context.Background())
		clock.Run(clockCtx)

		active := &activeSession{sess: sess, set: set, clock: clock, stop: stop}
		id := uuid.NewString()
		s.mu.Lock()
		s.sessions[id] = active
		s.mu.Unlock()
		s.renderCard(w, id, active)
	}
}

// handleStudy dispatches the /study/{sid}/... transitions on a live session.
func (s *Server) handleStudy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/study/")
		sid, action, _ := strings.Cut(rest, "/")

		s.mu.Lock()
		active, ok := s.sessions[sid]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		// One card transition at a time per session.
		active.mu.Lock()
		defer active.mu.Unlock()

		switch {
		case action == "card" && r.Method == http.MethodGet:
			s.renderCard(w, sid, active)
		case action == "clock" && r.Method == http.MethodGet:
			s.renderClock(w, sid, active)
		case action == "pause" && r.Method == http.MethodPost:
			active.clock.Pause()
			s.renderClock(w, sid, active)
		case action == "resume" && r.Method == http.MethodPost:
			active.clock.Resume()
			s.renderClock(w, sid, active)
		case action == "feedback" && r.Method == http.MethodPost:
			s.submitFeedback(w, r, sid, active)
		case action == "advance" && r.Method == http.MethodPost:
			s.advance(w, sid, active)
		case action == "choice" && r.Method == http.MethodPost:
			s.submitChoice(w, r, sid, active)
		case action == "quit" && r.Method == http.MethodPost:
			// Leaving a session discards it. Scheduler writes for cards
			// already answered have landed and are kept.
			s.dropSession(sid)
			s.renderBack(w, r, flow.ForMode(active.sess.Mode()), active.set.ID, active.set.Subject)
		default:
			http.NotFound(w, r)
		}
	}
}

// submitFeedback grades the current Learn card and renders whatever comes
// next. A failed scheduler write keeps the card current so the learner can
// retry the submission.
func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request, sid string, active *activeSession) {
	knewIt := r.PostFormValue("knew") == "1"
	res, err := active.sess.SubmitFeedback(r.Context(), knewIt)
	if err != nil {
		if errors.Is(err, store.ErrSetNotFound) || errors.Is(err, store.ErrCardNotFound) {
			s.dropSession(sid)
			http.Error(w, "This set was removed while you were studying", http.StatusConflict)
			return
		}
		log.Printf("Error saving review for set %s: %v", active.set.ID, err)
		http.Error(w, "Failed to save review, try again", http.StatusInternalServerError)
		return
	}
	s.afterTransition(w, sid, active, res)
}

func (s *Server) advance(w http.ResponseWriter, sid string, active *activeSession) {
	res, err := active.sess.Advance()
	if err != nil {
		log.Printf("Error advancing session %s: %v", sid, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.afterTransition(w, sid, active, res)
}

// submitChoice grades a multiple-choice pick and renders the locked choice
// grid with the correct answer highlighted; the fragment auto-advances to
// the next card after the feedback delay.
func (s *Server) submitChoice(w http.ResponseWriter, r *http.Request, sid string, active *activeSession) {
	card, ok := active.sess.Current()
	if !ok {
		s.afterTransition(w, sid, active, session.Complete)
		return
	}
	picked := r.PostFormValue("choice")
	choices := active.sess.Choices()

	correct, _, err := active.sess.SubmitChoice(picked)
	if err != nil {
		log.Printf("Error recording choice for session %s: %v", sid, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.templates.ExecuteTemplate(w, "mc_feedback", map[string]interface{}{
		"SessionID": sid,
		"Set":       active.set,
		"Question":  card.Question,
		"Answer":    card.Answer,
		"Choices":   choices,
		"Picked":    picked,
		"Correct":   correct,
	})
}

// afterTransition renders whatever view follows a card transition.
func (s *Server) afterTransition(w http.ResponseWriter, sid string, active *activeSession, res session.Result) {
	switch flow.AfterResult(active.sess.Mode(), res) {
	case flow.Summary:
		s.dropSession(sid)
		s.templates.ExecuteTemplate(w, "summary", map[string]interface{}{
			"Set":     active.set,
			"Summary": active.sess.Summary(),
		})
	case flow.AllLearned:
		s.dropSession(sid)
		s.templates.ExecuteTemplate(w, "all_learned", map[string]interface{}{
			"Set": active.set,
		})
	default:
		s.renderCard(w, sid, active)
	}
}

// renderCard shows the current card in the session's mode.
func (s *Server) renderCard(w http.ResponseWriter, sid string, active *activeSession) {
	card, ok := active.sess.Current()
	if !ok {
		s.afterTransition(w, sid, active, session.Complete)
		return
	}
	rem := active.clock.Remaining().Round(time.Second)
	data := map[string]interface{}{
		"SessionID": sid,
		"Set":       active.set,
		"Card":      card,
		"Remaining": active.sess.Remaining(),
		"Total":     active.sess.Summary().Total,
		"Choices":   active.sess.Choices(),
		"Clock":     fmt.Sprintf("%d:%02d", int(rem.Minutes()), int(rem.Seconds())%60),
	}
	switch active.sess.Mode() {
	case domain.ModeLearn:
		s.templates.ExecuteTemplate(w, "learn_card", data)
	case domain.ModeCram:
		s.templates.ExecuteTemplate(w, "cram_card", data)
	case domain.ModeMC:
		s.templates.ExecuteTemplate(w, "mc_card", data)
	}
}

func (s *Server) renderSetList(w http.ResponseWriter, r *http.Request, subject string) {
	sets, err := s.store.ListSets(r.Context(), subject)
	if err != nil {
		log.Printf("Error listing sets for subject %q: %v", subject, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.templates.ExecuteTemplate(w, "sets", map[string]interface{}{
		"Subject": subject,
		"Sets":    sets,
	})
}

func (s *Server) setNotFound(w http.ResponseWriter, r *http.Request, setID string, err error) {
	if errors.Is(err, store.ErrSetNotFound) {
		http.NotFound(w, r)
		return
	}
	log.Printf("Error loading set %s: %v", setID, err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// renderClock shows the time left on the session's study clock. Card
// fragments poll this every few seconds.
func (s *Server) renderClock(w http.ResponseWriter, sid string, active *activeSession) {
	rem := active.clock.Remaining().Round(time.Second)
	s.templates.ExecuteTemplate(w, "clock", map[string]interface{}{
		"SessionID": sid,
		"Remaining": fmt.Sprintf("%d:%02d", int(rem.Minutes()), int(rem.Seconds())%60),
		"Expired":   rem == 0,
		"Paused":    active.clock.Paused(),
	})
}

// watchSet streams card-count updates for a set as server-sent events, fed
// by the store's snapshot subscription. The stream ends when the client
// disconnects or the set is deleted.
func (s *Server) watchSet(w http.ResponseWriter, r *http.Request, setID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	if _, err := s.store.GetSet(r.Context(), setID); err != nil {
		s.setNotFound(w, r, setID, err)
		return
	}

	snapshots, cancel := s.store.Subscribe(setID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case cards, open := <-snapshots:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: cards\ndata: %d cards\n\n", len(cards))
			flusher.Flush()
		}
	}
}

func (s *Server) dropSession(sid string) {
	s.mu.Lock()
	active, ok := s.sessions[sid]
	delete(s.sessions, sid)
	s.mu.Unlock()
	if ok && active.stop != nil {
		active.stop()
	}
}
