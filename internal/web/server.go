package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/conorfennell/examcards/internal/domain"
	"github.com/conorfennell/examcards/internal/gitsource"
	"github.com/conorfennell/examcards/internal/scheduler"
	"github.com/conorfennell/examcards/internal/storage"
	cardsync "github.com/conorfennell/examcards/internal/sync"
)

const maxBodyBytes = 1 << 20

// Syncer reconciles card sources on demand.
type Syncer interface {
	Run(ctx context.Context) (cardsync.Report, error)
}

// Options configures the HTTP server.
type Options struct {
	BatchSize      int
	AllowedOrigins []string
	RatePerSecond  float64
	RateBurst      int
	Logger         *slog.Logger
	Now            func() time.Time
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	engine   *scheduler.Engine
	syncer   Syncer
	router   *http.ServeMux
	handler  http.Handler
	validate *validator.Validate
	limiter  *RateLimiter
	opts     Options
	logger   *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, engine *scheduler.Engine, syncer Syncer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}

	s := &Server{
		db:       db,
		engine:   engine,
		syncer:   syncer,
		router:   http.NewServeMux(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  NewRateLimiter(opts.RatePerSecond, opts.RateBurst),
		opts:     opts,
		logger:   opts.Logger,
	}
	s.routes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:         86400,
	}).Handler(s.router)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	// Review routes
	s.router.HandleFunc("GET /api/learners/{learnerID}/reviews", s.handleGetReviews())
	s.router.HandleFunc("POST /api/learners/{learnerID}/reviews", s.handlePostReview())
	s.router.HandleFunc("GET /api/learners/{learnerID}/progress", s.handleGetProgress())

	// Source management routes
	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /api/sync", s.handlePostSync())
}

type flashcard struct {
	domain.Card
	Progress domain.Progress `json:"progress"`
	Label    string          `json:"label"`
}

type reviewRequest struct {
	CardID  string `json:"cardId" validate:"required"`
	Quality *int   `json:"quality" validate:"required"`
}

type reviewResponse struct {
	Progress     domain.Progress `json:"progress"`
	Label        string          `json:"label"`
	NextReviewIn string          `json:"nextReviewIn"`
}

type sourceRequest struct {
	Path string `json:"path" validate:"required"`
}

type sourceResponse struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"lastScanned"`
}

func toSourceResponse(src storage.Source) sourceResponse {
	resp := sourceResponse{ID: src.ID, Path: src.Path, Type: src.Type}
	if src.LastScanned.Valid {
		t := src.LastScanned.Time
		resp.LastScanned = &t
	}
	return resp
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleGetReviews selects the next batch of flashcards for a learner.
func (s *Server) handleGetReviews() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID := r.PathValue("learnerID")
		examID := r.URL.Query().Get("examId")
		if examID == "" {
			s.writeError(w, http.StatusBadRequest, "examId is required")
			return
		}

		limit := s.opts.BatchSize
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			limit = n
		}

		mode, err := scheduler.ParseMode(r.URL.Query().Get("mode"))
		if err != nil {
			s.respondErr(w, err)
			return
		}

		pool, err := s.db.ActiveCardIDs(r.Context(), examID)
		if err != nil {
			s.respondErr(w, err)
			return
		}

		items, err := s.engine.SelectBatch(r.Context(), learnerID, pool, mode, limit, s.opts.Now())
		if err != nil {
			s.respondErr(w, err)
			return
		}

		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.CardID
		}
		cards, err := s.db.GetCards(r.Context(), ids)
		if err != nil {
			s.respondErr(w, err)
			return
		}

		flashcards := make([]flashcard, 0, len(items))
		for _, item := range items {
			card, ok := cards[item.CardID]
			if !ok {
				continue
			}
			flashcards = append(flashcards, flashcard{
				Card:     card,
				Progress: item.Progress,
				Label:    item.Progress.Label(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"flashcards": flashcards})
	}
}

// handlePostReview records a learner's answer to a card.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID := r.PathValue("learnerID")
		if !s.limiter.Allow(learnerID) {
			s.writeError(w, http.StatusTooManyRequests, "too many reviews, slow down")
			return
		}

		var req reviewRequest
		if !s.decode(w, r, &req) {
			return
		}

		card, err := s.db.FindCard(r.Context(), req.CardID)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		if card == nil || !card.Active {
			s.writeError(w, http.StatusNotFound, "card not found")
			return
		}

		result, err := s.engine.Submit(r.Context(), learnerID, req.CardID, domain.Quality(*req.Quality), s.opts.Now())
		if err != nil {
			s.respondErr(w, err)
			return
		}

		progress := domain.Reviewed(result.State)
		writeJSON(w, http.StatusOK, reviewResponse{
			Progress:     progress,
			Label:        progress.Label(),
			NextReviewIn: result.NextReviewIn,
		})
	}
}

// handleGetProgress summarizes a learner's progress through an exam.
func (s *Server) handleGetProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := r.URL.Query().Get("examId")
		if examID == "" {
			s.writeError(w, http.StatusBadRequest, "examId is required")
			return
		}
		progress, err := s.db.ExamProgress(r.Context(), r.PathValue("learnerID"), examID, s.opts.Now())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

// handleGetSources lists the configured card sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.db.GetAllSources(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		resp := make([]sourceResponse, len(sources))
		for i, src := range sources {
			resp[i] = toSourceResponse(src)
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": resp})
	}
}

// handlePostSource adds a new local directory or git repository as a card source.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sourceRequest
		if !s.decode(w, r, &req) {
			return
		}

		existing, err := s.db.FindSourceByPath(r.Context(), req.Path)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		if existing != nil {
			s.writeError(w, http.StatusConflict, "source already exists")
			return
		}

		sourceType := storage.SourceLocal
		if gitsource.IsGitURL(req.Path) {
			sourceType = storage.SourceGit
		}
		id, err := s.db.InsertSource(r.Context(), req.Path, sourceType)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.logger.Info("Source added", "id", id, "type", sourceType, "path", req.Path)
		writeJSON(w, http.StatusCreated, sourceResponse{ID: id, Path: req.Path, Type: sourceType})
	}
}

// handleDeleteSource deletes a source. Its cards are deactivated.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid source id")
			return
		}

		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrSourceNotFound) {
				s.writeError(w, http.StatusNotFound, "source not found")
				return
			}
			s.respondErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync triggers a manual sync and waits for it to finish.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.syncer.Run(r.Context())
		if err != nil {
			s.logger.Error("Sync failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "sync failed", "report": report})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// decode reads and validates a JSON request body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStaleWrite):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		msg = "internal server error"
	}
	s.writeError(w, status, msg)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
