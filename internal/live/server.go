package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"podium/internal/content"
	"podium/internal/domain"
	"podium/internal/ports"
	"podium/internal/usecase"
)

// Practice is the session surface the server drives.
type Practice interface {
	Start(ctx context.Context, sel domain.Selection) (domain.SessionState, error)
	SkipPreparation() error
	StopCapture() error
	Rerecord() error
	FinishEarly() error
	Exit() error
	RetryCompletion(ctx context.Context) (usecase.Completion, error)
	Snapshot() (domain.SessionState, error)
	Status() domain.Status
}

// ServerDeps are the collaborators of the local API.
type ServerDeps struct {
	Practice Practice
	Catalog  *content.Catalog
	Store    ports.Store
	Hub      *Hub
	UserID   string
	Logger   *slog.Logger
}

// Server exposes the practice controller, history and progress over HTTP.
type Server struct {
	deps    ServerDeps
	router  *mux.Router
	handler http.Handler
}

type activityView struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Summary     string   `json:"summary"`
	Rounds      int      `json:"rounds"`
	Resumable   bool     `json:"resumable"`
	Params      []string `json:"params,omitempty"`
}

type sessionView struct {
	Status domain.Status        `json:"status"`
	State  *domain.SessionState `json:"state,omitempty"`
}

type errorBody struct {
	Error *domain.ErrorInfo `json:"error"`
}

func NewServer(deps ServerDeps, allowedOrigins []string) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.UserID == "" {
		deps.UserID = "local"
	}
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.routes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.deps.Logger.Info("serving", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/activities", s.listActivities).Methods(http.MethodGet)
	api.HandleFunc("/session", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/session", s.startSession).Methods(http.MethodPost)
	api.HandleFunc("/session/{action}", s.sessionAction).Methods(http.MethodPost)
	api.HandleFunc("/progress", s.getProgress).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/recordings", s.listRecordings).Methods(http.MethodGet)

	if s.deps.Hub != nil {
		s.router.Handle("/ws", s.deps.Hub)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) listActivities(w http.ResponseWriter, _ *http.Request) {
	activities := s.deps.Catalog.List()
	out := make([]activityView, 0, len(activities))
	for _, a := range activities {
		view := activityView{
			ID:          a.ID,
			Kind:        string(a.Kind),
			Title:       a.Title,
			Description: a.Description,
			Summary:     content.Describe(a),
			Rounds:      len(a.Rounds),
			Resumable:   a.Resumable,
		}
		for _, p := range a.Params {
			view.Params = append(view.Params, p.Name)
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	view := sessionView{Status: s.deps.Practice.Status()}
	if state, err := s.deps.Practice.Snapshot(); err == nil {
		view.State = &state
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var sel domain.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeError(w, http.StatusBadRequest, &domain.ErrorInfo{Code: domain.ErrorCodeConfig, Message: "Invalid selection.", Detail: err.Error()})
		return
	}
	// The session outlives the request.
	state, err := s.deps.Practice.Start(context.WithoutCancel(r.Context()), sel)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) sessionAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := mux.Vars(r)["action"]; action {
	case "skip-preparation":
		err = s.deps.Practice.SkipPreparation()
	case "stop":
		err = s.deps.Practice.StopCapture()
	case "rerecord":
		err = s.deps.Practice.Rerecord()
	case "finish":
		err = s.deps.Practice.FinishEarly()
	case "exit":
		err = s.deps.Practice.Exit()
	case "retry-completion":
		completion, retryErr := s.deps.Practice.RetryCompletion(r.Context())
		if retryErr != nil {
			s.fail(w, retryErr)
			return
		}
		writeJSON(w, http.StatusOK, completion)
		return
	default:
		writeError(w, http.StatusNotFound, &domain.ErrorInfo{Code: domain.ErrorCodeConfig, Message: "Unknown action " + strconv.Quote(action) + "."})
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.getSession(w, r)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Store.GetProgress(r.Context(), s.deps.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		progress = domain.UserProgress{UserID: s.deps.UserID, ActivityCounts: map[string]int{}}
	} else if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.deps.Store.ListSessions(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if records == nil {
		records = []domain.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.deps.Store.ListRecordings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if recordings == nil {
		recordings = []domain.RecordingRecord{}
	}
	writeJSON(w, http.StatusOK, recordings)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", "err", err)
	}
	writeError(w, status, domain.Describe(err))
}

func statusFor(err error) int {
	var (
		cfgErr     *domain.ConfigError
		persistErr *domain.PersistenceError
	)
	switch {
	case errors.Is(err, domain.ErrNoActiveSession), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrActionNotAllowed),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrAlreadyCompleted),
		errors.Is(err, domain.ErrDeviceBusy):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &persistErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, info *domain.ErrorInfo) {
	writeJSON(w, status, errorBody{Error: info})
}
