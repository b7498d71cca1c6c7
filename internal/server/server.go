// Package server is the HTTP surface: JSON routes for the student client
// plus the admin console, with auth, rate limiting and logging middleware.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"exampro/internal/app"
	"exampro/internal/ratelimit"
	"exampro/internal/util"
	"exampro/pkg/domain"
	"exampro/pkg/entitlement"
	"exampro/pkg/gateway"
	"exampro/pkg/queue"
)

const maxJSONBody = 1 << 20
const maxProofForm = 8 << 20

// Config wires the server's collaborators. Limiters may be nil, which
// disables rate limiting for the matching routes.
type Config struct {
	App             *app.App
	Logger          *slog.Logger
	TrustedProxies  *util.TrustedProxies
	LoginLimiter    *ratelimit.FixedWindowLimiter
	RegisterLimiter *ratelimit.FixedWindowLimiter
	TutorLimiter    *ratelimit.FixedWindowLimiter
}

// Server routes HTTP requests into the app layer.
type Server struct {
	app     *app.App
	logger  *slog.Logger
	trusted *util.TrustedProxies

	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	tutorLimiter    *ratelimit.FixedWindowLimiter

	handler http.Handler
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		app:             cfg.App,
		logger:          cfg.Logger,
		trusted:         cfg.TrustedProxies,
		loginLimiter:    cfg.LoginLimiter,
		registerLimiter: cfg.RegisterLimiter,
		tutorLimiter:    cfg.TutorLimiter,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("POST /auth/register", s.limited(s.registerLimiter, http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /auth/login", s.limited(s.loginLimiter, http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /auth/logout", s.authenticated(s.handleLogout))

	mux.HandleFunc("GET /me", s.authenticated(s.handleMe))
	mux.HandleFunc("PATCH /me", s.authenticated(s.handleUpdateMe))

	mux.HandleFunc("GET /subjects", s.authenticated(s.handleSubjects))
	mux.HandleFunc("GET /notes", s.authenticated(s.handleNotes))
	mux.HandleFunc("GET /exams", s.authenticated(s.handleExams))
	mux.HandleFunc("POST /exams", s.adminOnly(s.handleAddExam))
	mux.HandleFunc("GET /questions", s.authenticated(s.handleQuestions))
	mux.HandleFunc("POST /questions", s.adminOnly(s.handleSaveQuestion))
	mux.HandleFunc("GET /plans", s.handlePlans)
	mux.HandleFunc("GET /settings", s.authenticated(s.handleSettings))
	mux.HandleFunc("PUT /settings", s.adminOnly(s.handleUpdateSettings))

	mux.HandleFunc("POST /payments", s.authenticated(s.handleSubmitPayment))
	mux.HandleFunc("GET /payments", s.adminOnly(s.handleListPayments))
	mux.HandleFunc("POST /admin/payments/{id}/approve", s.adminOnly(s.handleApprovePayment))
	mux.HandleFunc("POST /admin/payments/{id}/reject", s.adminOnly(s.handleRejectPayment))
	mux.HandleFunc("GET /admin/users", s.adminOnly(s.handleListUsers))
	mux.HandleFunc("GET /admin/readiness", s.adminOnly(s.handleReadiness))
	mux.HandleFunc("POST /admin/notes/generate", s.adminOnly(s.handleGenerateNotes))
	mux.HandleFunc("GET /admin/notes/jobs/{id}", s.adminOnly(s.handleNoteJob))

	mux.Handle("POST /tutor/ask", s.limited(s.tutorLimiter, s.authenticated(s.handleTutorAsk)))
	mux.Handle("POST /tutor/quiz", s.limited(s.tutorLimiter, s.authenticated(s.handleTutorQuiz)))

	mux.HandleFunc("GET /sync", s.authenticated(s.handleSyncState))
	mux.HandleFunc("POST /sync", s.authenticated(s.handleSyncNow))
	mux.HandleFunc("GET /sync/events", s.authenticated(s.handleSyncEvents))

	var handler http.Handler = mux
	handler = util.WithSecurityHeaders(handler)
	handler = util.WithCORS(handler)
	handler = util.WithRequestLog("exampro", handler)
	handler = util.WithRequestID(handler)
	return handler
}

// ---- middleware ----

type authedHandler func(w http.ResponseWriter, r *http.Request, email string, role domain.UserRole)

func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		email, role, err := s.app.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r, email, role)
	}
}

func (s *Server) adminOnly(next authedHandler) http.HandlerFunc {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, email string, role domain.UserRole) {
		if role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r, email, role)
	})
}

func (s *Server) limited(limiter *ratelimit.FixedWindowLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(util.ClientIP(r, s.trusted)) {
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// ---- auth ----

type credentialsRequest struct {
	Name       string              `json:"name"`
	Email      string              `json:"email"`
	Password   string              `json:"password"`
	Class      domain.StudentClass `json:"class"`
	TargetExam domain.ExamType     `json:"targetExam"`
	ReferredBy string              `json:"referredBy"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Register(r.Context(), app.RegisterInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Class:      req.Class,
		TargetExam: req.TargetExam,
		ReferredBy: req.ReferredBy,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	if err := s.app.Logout(r.Context(), email); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// ---- profile ----

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	user, err := s.app.CurrentUser(r.Context(), email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type profileRequest struct {
	Class         *domain.StudentClass `json:"class"`
	TargetExam    *domain.ExamType     `json:"targetExam"`
	Theme         *domain.ThemeMode    `json:"theme"`
	AvatarURL     *string              `json:"avatarUrl"`
	ToggleSubject *string              `json:"toggleSubject"`
	Progress      map[string]float64   `json:"progress"`
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.UpdateProfile(r.Context(), email, app.ProfileUpdate{
		Class:         req.Class,
		TargetExam:    req.TargetExam,
		Theme:         req.Theme,
		AvatarURL:     req.AvatarURL,
		ToggleSubject: req.ToggleSubject,
		Progress:      req.Progress,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ---- catalogs ----

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	subjects, err := s.app.Subjects(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	subjectID := r.URL.Query().Get("subjectId")
	class := domain.StudentClass(r.URL.Query().Get("class"))
	notes, err := s.app.Notes(r.Context(), subjectID, class)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleExams(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	exams, err := s.app.Exams(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (s *Server) handleAddExam(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	var exam domain.MockExam
	if !decodeJSON(w, r, &exam) {
		return
	}
	saved, err := s.app.AddExam(r.Context(), exam)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	questions, err := s.app.Questions(r.Context(), r.URL.Query().Get("subjectId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *Server) handleSaveQuestion(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	var question domain.Question
	if !decodeJSON(w, r, &question) {
		return
	}
	saved, err := s.app.SaveQuestion(r.Context(), question)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handlePlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Plans())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	settings, err := s.app.Settings(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	var settings domain.PaymentSettings
	if !decodeJSON(w, r, &settings) {
		return
	}
	if err := s.app.UpdateSettings(r.Context(), settings); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ---- payments ----

func (s *Server) handleSubmitPayment(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	if err := r.ParseMultipartForm(maxProofForm); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	in := app.SubmitPaymentInput{
		Email:  email,
		Type:   domain.PaymentType(r.FormValue("type")),
		PlanID: r.FormValue("planId"),
	}
	if raw := r.FormValue("amount"); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		in.Amount = amount
	}
	if file, header, err := r.FormFile("proof"); err == nil {
		defer file.Close()
		in.Proof = file
		in.ProofContentType = header.Header.Get("Content-Type")
		in.ProofSize = header.Size
	}
	payment, err := s.app.SubmitPayment(r.Context(), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	payments, err := s.app.Payments(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) handleApprovePayment(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	s.reviewPayment(w, r, true)
}

func (s *Server) handleRejectPayment(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	s.reviewPayment(w, r, false)
}

func (s *Server) reviewPayment(w http.ResponseWriter, r *http.Request, approve bool) {
	payment, err := s.app.ReviewPayment(r.Context(), r.PathValue("id"), approve)
	if err != nil {
		// A failed grant leaves the proof retryable; hand the admin the
		// stored state along with the error.
		if errors.Is(err, gateway.ErrGrantPending) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   err.Error(),
				"payment": payment,
			})
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// ---- admin ----

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	users, err := s.app.Users(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	reports, err := s.app.ReadinessReport(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

type generateNotesRequest struct {
	Topic     string `json:"topic"`
	SubjectID string `json:"subjectId"`
	Class     string `json:"class"`
}

func (s *Server) handleGenerateNotes(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	var req generateNotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := s.app.EnqueueNotes(r.Context(), queue.NoteRequest{
		Topic:     req.Topic,
		SubjectID: req.SubjectID,
		Class:     req.Class,
	}, email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleNoteJob(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	job, found, err := s.app.NoteJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ---- tutor ----

type tutorAskRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

func (s *Server) handleTutorAsk(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	var req tutorAskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	answer, err := s.app.AskTutor(r.Context(), req.Query, req.Context)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

type tutorQuizRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

func (s *Server) handleTutorQuiz(w http.ResponseWriter, r *http.Request, _ string, _ domain.UserRole) {
	var req tutorQuizRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	questions, err := s.app.GenerateQuiz(r.Context(), req.Topic, req.Count)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

// ---- sync ----

type syncStateResponse struct {
	Snapshot any  `json:"snapshot"`
	Loading  bool `json:"loading"`
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	snap, loading, err := s.app.State(r.Context(), email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncStateResponse{Snapshot: snap, Loading: loading})
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request, email string, _ domain.UserRole) {
	snap, err := s.app.SyncNow(r.Context(), email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncStateResponse{Snapshot: snap})
}

func (s *Server) handleSyncEvents(w http.ResponseWriter, _ *http.Request, email string, _ domain.UserRole) {
	writeJSON(w, http.StatusOK, map[string]bool{"upgraded": s.app.DrainUpgrade(email)})
}

// ---- helpers ----

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var transition *entitlement.ErrInvalidTransition
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrEmailAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, app.ErrUserNotFound), errors.Is(err, gateway.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrMissingFields),
		errors.Is(err, app.ErrWeakPassword),
		errors.Is(err, app.ErrInvalidPlan),
		errors.Is(err, app.ErrInvalidPaymentType),
		errors.Is(err, app.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrQuestionLimit), errors.As(err, &transition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
