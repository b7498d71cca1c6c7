// Package app orchestrates the business operations behind the HTTP surface:
// accounts and sessions, profile updates, the payment approval flow, the
// admin console operations and the AI tutor.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"exampro/pkg/ai"
	"exampro/pkg/auth"
	"exampro/pkg/domain"
	"exampro/pkg/gateway"
	"exampro/pkg/queue"
	"exampro/pkg/session"
	"exampro/pkg/storage"
)

// NoteQueue is the slice of the job queue the app needs: submitting
// note-generation requests and polling their status.
type NoteQueue interface {
	Enqueue(ctx context.Context, req queue.NoteRequest) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config wires the app's collaborators. Gateway, Tokens and Snapshots are
// required; the rest may be nil, which disables the matching operations.
type Config struct {
	Gateway   *gateway.Client
	Tokens    *session.Tokens
	Snapshots session.Store
	Tutor     *ai.Tutor
	Notes     NoteQueue
	Proofs    *storage.ProofImages

	// SyncInterval overrides the default heartbeat period for per-user
	// sync controllers. SyncJitter spreads the heartbeats.
	SyncInterval time.Duration
	SyncJitter   bool

	Logger *slog.Logger
}

// App is the orchestration layer. It owns the registry of per-user sync
// controllers: one is created on login (or lazily on the first state read
// after a restart) and closed on logout.
type App struct {
	gw        *gateway.Client
	tokens    *session.Tokens
	snapshots session.Store
	tutor     *ai.Tutor
	notes     NoteQueue
	proofs    *storage.ProofImages
	logger    *slog.Logger

	syncCfg session.ControllerConfig

	runCtx    context.Context
	runCancel context.CancelFunc

	mu          sync.Mutex
	controllers map[string]*session.Controller
}

// New builds the app from its collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("app requires a store gateway")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("app requires a token issuer")
	}
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("app requires a snapshot store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &App{
		gw:        cfg.Gateway,
		tokens:    cfg.Tokens,
		snapshots: cfg.Snapshots,
		tutor:     cfg.Tutor,
		notes:     cfg.Notes,
		proofs:    cfg.Proofs,
		logger:    cfg.Logger,
		syncCfg: session.ControllerConfig{
			Interval: cfg.SyncInterval,
			Jitter:   cfg.SyncJitter,
			Logger:   cfg.Logger,
		},
		runCtx:      runCtx,
		runCancel:   runCancel,
		controllers: make(map[string]*session.Controller),
	}, nil
}

// Close stops every active sync controller and the background context.
func (a *App) Close() {
	a.runCancel()
	a.mu.Lock()
	controllers := make([]*session.Controller, 0, len(a.controllers))
	for _, c := range a.controllers {
		controllers = append(controllers, c)
	}
	a.controllers = make(map[string]*session.Controller)
	a.mu.Unlock()
	for _, c := range controllers {
		c.Close()
	}
}

// ---- accounts ----

// RegisterInput carries a new account request.
type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Class      domain.StudentClass
	TargetExam domain.ExamType
	ReferredBy string
}

// Register creates an account and opens a session for it. The very first
// registered account becomes the admin.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return domain.User{}, "", ErrMissingFields
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %s", ErrWeakPassword, err)
	}
	if _, found, err := a.gw.GetUserByEmail(ctx, email); err != nil {
		return domain.User{}, "", fmt.Errorf("check existing account: %w", err)
	} else if found {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	role := domain.RoleStudent
	existing, err := a.gw.ListUsers(ctx)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count accounts: %w", err)
	}
	if len(existing) == 0 {
		role = domain.RoleAdmin
	}

	user := domain.User{
		Email:              email,
		PasswordHash:       hash,
		Name:               name,
		Class:              in.Class,
		TargetExam:         in.TargetExam,
		Role:               role,
		Progress:           map[string]float64{},
		RegisteredSubjects: []string{},
		Theme:              domain.ThemeLight,
		ReferredBy:         strings.ToUpper(strings.TrimSpace(in.ReferredBy)),
	}
	saved, err := a.gw.SaveUser(ctx, user)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create account: %w", err)
	}

	token, err := a.tokens.Issue(saved.Email, saved.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	a.openSession(ctx, saved)
	return saved, token, nil
}

// Login verifies credentials and opens a session.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, found, err := a.gw.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("look up account: %w", err)
	}
	if !found || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.Email, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	a.openSession(ctx, user)
	return user, token, nil
}

// Logout closes the user's sync controller and drops the persisted snapshot.
func (a *App) Logout(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	a.mu.Lock()
	c, ok := a.controllers[email]
	delete(a.controllers, email)
	a.mu.Unlock()
	if ok {
		c.Close()
	}
	if err := a.snapshots.Clear(ctx, email); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// VerifyToken resolves a bearer token to the email and role it was issued for.
func (a *App) VerifyToken(token string) (string, domain.UserRole, error) {
	return a.tokens.Verify(token)
}

// CurrentUser returns the account behind an authenticated email, preferring
// the live session snapshot over a store round trip.
func (a *App) CurrentUser(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	if c, ok := a.activeController(email); ok {
		if snap := c.Snapshot(); snap.User.Email == email {
			return snap.User, nil
		}
	}
	user, found, err := a.gw.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("look up account: %w", err)
	}
	if !found {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// ---- profile ----

// ProfileUpdate carries the mutable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Class         *domain.StudentClass
	TargetExam    *domain.ExamType
	Theme         *domain.ThemeMode
	AvatarURL     *string
	ToggleSubject *string
	Progress      map[string]float64
}

// UpdateProfile applies a partial profile change and pushes the result into
// the user's session snapshot.
func (a *App) UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (domain.User, error) {
	email = normalizeEmail(email)
	user, found, err := a.gw.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("look up account: %w", err)
	}
	if !found {
		return domain.User{}, ErrUserNotFound
	}

	if update.Class != nil {
		user.Class = *update.Class
	}
	if update.TargetExam != nil {
		user.TargetExam = *update.TargetExam
	}
	if update.Theme != nil {
		user.Theme = *update.Theme
	}
	if update.AvatarURL != nil {
		user.AvatarURL = *update.AvatarURL
	}
	if update.ToggleSubject != nil {
		user.RegisteredSubjects = toggleSubject(user.RegisteredSubjects, *update.ToggleSubject)
	}
	if len(update.Progress) > 0 {
		if user.Progress == nil {
			user.Progress = map[string]float64{}
		}
		for subjectID, value := range update.Progress {
			user.Progress[subjectID] = value
		}
	}

	saved, err := a.gw.SaveUser(ctx, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("save profile: %w", err)
	}
	if c, ok := a.activeController(email); ok {
		c.SetUser(ctx, saved)
	}
	return saved, nil
}

func toggleSubject(registered []string, subjectID string) []string {
	out := make([]string, 0, len(registered)+1)
	removed := false
	for _, id := range registered {
		if id == subjectID {
			removed = true
			continue
		}
		out = append(out, id)
	}
	if !removed {
		out = append(out, subjectID)
	}
	return out
}

// ---- catalogs ----

func (a *App) Subjects(ctx context.Context) ([]domain.Subject, error) {
	return a.gw.ListSubjects(ctx)
}

func (a *App) Exams(ctx context.Context) ([]domain.MockExam, error) {
	return a.gw.ListExams(ctx)
}

// Notes lists study notes, optionally narrowed to one subject and one class.
func (a *App) Notes(ctx context.Context, subjectID string, class domain.StudentClass) ([]domain.StudyNote, error) {
	notes, err := a.gw.ListNotes(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if class == "" {
		return notes, nil
	}
	filtered := make([]domain.StudyNote, 0, len(notes))
	for _, note := range notes {
		if note.StudentClass == class {
			filtered = append(filtered, note)
		}
	}
	return filtered, nil
}

func (a *App) Questions(ctx context.Context, subjectID string) ([]domain.Question, error) {
	return a.gw.ListQuestions(ctx, subjectID)
}

// Plans returns the fixed premium plan catalog.
func (a *App) Plans() []domain.PremiumPlan {
	return domain.PremiumPlans
}

func (a *App) Settings(ctx context.Context) (domain.PaymentSettings, error) {
	return a.gw.GetSettings(ctx)
}

// ---- payments ----

// SubmitPaymentInput is a payment proof submission. Proof is the uploaded
// image; it may be nil when the client submits without an attachment.
type SubmitPaymentInput struct {
	Email  string
	Amount float64
	Type   domain.PaymentType
	PlanID string

	Proof            io.Reader
	ProofContentType string
	ProofSize        int64
}

// SubmitPayment stores the proof image and creates a PENDING payment record
// for admin review. Premium submissions must name a known plan; the amount is
// taken from the plan catalog.
func (a *App) SubmitPayment(ctx context.Context, in SubmitPaymentInput) (domain.PaymentProof, error) {
	email := normalizeEmail(in.Email)
	user, found, err := a.gw.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.PaymentProof{}, fmt.Errorf("look up account: %w", err)
	}
	if !found {
		return domain.PaymentProof{}, ErrUserNotFound
	}

	payment := domain.PaymentProof{
		UserID:    user.ID,
		UserName:  user.Name,
		UserEmail: user.Email,
		Amount:    in.Amount,
		Type:      in.Type,
		PlanID:    strings.TrimSpace(in.PlanID),
	}
	switch in.Type {
	case domain.PaymentPremium:
		plan, ok := planByID(payment.PlanID)
		if !ok {
			return domain.PaymentProof{}, ErrInvalidPlan
		}
		payment.Amount = plan.Price
	case domain.PaymentMockExam:
		if payment.Amount <= 0 {
			return domain.PaymentProof{}, ErrInvalidAmount
		}
	default:
		return domain.PaymentProof{}, ErrInvalidPaymentType
	}

	if in.Proof != nil && a.proofs != nil {
		key, err := a.proofs.Save(ctx, email, in.ProofContentType, in.Proof, in.ProofSize)
		if err != nil {
			return domain.PaymentProof{}, fmt.Errorf("store proof image: %w", err)
		}
		payment.ProofURL = key
	}

	saved, err := a.gw.SubmitPayment(ctx, payment)
	if err != nil {
		if payment.ProofURL != "" && a.proofs != nil {
			if delErr := a.proofs.Delete(ctx, payment.ProofURL); delErr != nil {
				a.logger.Warn("orphaned proof image", "key", payment.ProofURL, "err", delErr)
			}
		}
		return domain.PaymentProof{}, err
	}
	return saved, nil
}

func planByID(id string) (domain.PremiumPlan, bool) {
	for _, plan := range domain.PremiumPlans {
		if plan.ID == id {
			return plan, true
		}
	}
	return domain.PremiumPlan{}, false
}

// ReviewPayment applies an admin approval or rejection. Grant failures
// surface as gateway.ErrGrantPending with the proof left retryable. After a
// successful approval the payer's session is nudged so the premium upgrade
// lands without waiting for the next heartbeat.
func (a *App) ReviewPayment(ctx context.Context, paymentID string, approve bool) (domain.PaymentProof, error) {
	status := domain.PaymentRejected
	if approve {
		status = domain.PaymentApproved
	}
	payment, err := a.gw.UpdatePaymentStatus(ctx, paymentID, status)
	if err != nil {
		return payment, err
	}
	if approve {
		if c, ok := a.activeController(normalizeEmail(payment.UserEmail)); ok {
			go func() {
				if err := c.Sync(a.runCtx); err != nil && a.runCtx.Err() == nil {
					a.logger.Warn("post-approval sync failed", "user", c.Email(), "err", err)
				}
			}()
		}
	}
	return payment, nil
}

// Payments lists every submitted proof for the admin console, with stored
// object keys resolved to short-lived download links.
func (a *App) Payments(ctx context.Context) ([]domain.PaymentProof, error) {
	payments, err := a.gw.ListPayments(ctx)
	if err != nil {
		return nil, err
	}
	if a.proofs == nil {
		return payments, nil
	}
	for i, payment := range payments {
		if payment.ProofURL == "" {
			continue
		}
		url, err := a.proofs.URL(ctx, payment.ProofURL)
		if err != nil {
			a.logger.Warn("presign proof image failed", "payment_id", payment.ID, "err", err)
			continue
		}
		payments[i].ProofURL = url
	}
	return payments, nil
}

// ---- admin console ----

func (a *App) Users(ctx context.Context) ([]domain.User, error) {
	return a.gw.ListUsers(ctx)
}

func (a *App) SaveQuestion(ctx context.Context, question domain.Question) (domain.Question, error) {
	return a.gw.SaveQuestion(ctx, question)
}

// SubjectReport is one row of the admin readiness view.
type SubjectReport struct {
	Subject       domain.Subject          `json:"subject"`
	QuestionCount int                     `json:"questionCount"`
	Readiness     domain.SubjectReadiness `json:"readiness"`
}

// ReadinessReport summarises every subject's question bank for the admin.
func (a *App) ReadinessReport(ctx context.Context) ([]SubjectReport, error) {
	subjects, err := a.gw.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]SubjectReport, 0, len(subjects))
	for _, subject := range subjects {
		questions, err := a.gw.ListQuestions(ctx, subject.ID)
		if err != nil {
			return nil, fmt.Errorf("count questions for %s: %w", subject.Name, err)
		}
		reports = append(reports, SubjectReport{
			Subject:       subject,
			QuestionCount: len(questions),
			Readiness:     domain.ReadinessFor(len(questions)),
		})
	}
	return reports, nil
}

func (a *App) AddExam(ctx context.Context, exam domain.MockExam) (domain.MockExam, error) {
	return a.gw.AddExam(ctx, exam)
}

func (a *App) UpdateSettings(ctx context.Context, settings domain.PaymentSettings) error {
	return a.gw.UpdateSettings(ctx, settings)
}

// ---- tutor ----

// AskTutor answers a student question, optionally grounded in the note the
// student is currently reading.
func (a *App) AskTutor(ctx context.Context, query, studyContext string) (string, error) {
	if a.tutor == nil {
		return "", fmt.Errorf("tutor is not configured")
	}
	return a.tutor.Answer(ctx, query, studyContext)
}

// GenerateQuiz builds a practice quiz on demand.
func (a *App) GenerateQuiz(ctx context.Context, topic string, count int) ([]domain.Question, error) {
	if a.tutor == nil {
		return nil, fmt.Errorf("tutor is not configured")
	}
	return a.tutor.GenerateQuiz(ctx, topic, count)
}

// EnqueueNotes submits a background note-generation job.
func (a *App) EnqueueNotes(ctx context.Context, req queue.NoteRequest, requestedBy string) (queue.JobStatus, error) {
	if a.notes == nil {
		return queue.JobStatus{}, fmt.Errorf("note generation is not configured")
	}
	req.RequestedBy = normalizeEmail(requestedBy)
	return a.notes.Enqueue(ctx, req)
}

// NoteJob polls a previously submitted note-generation job.
func (a *App) NoteJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	if a.notes == nil {
		return queue.JobStatus{}, false, fmt.Errorf("note generation is not configured")
	}
	return a.notes.GetJob(ctx, jobID)
}

// ---- sessions ----

// State returns the user's current snapshot and whether the first sync cycle
// is still pending. A controller is created lazily so sessions survive a
// service restart.
func (a *App) State(ctx context.Context, email string) (session.Snapshot, bool, error) {
	c, err := a.controller(ctx, normalizeEmail(email))
	if err != nil {
		return session.Snapshot{}, false, err
	}
	return c.Snapshot(), c.Loading(), nil
}

// SyncNow triggers an immediate refresh cycle, as on a navigation event. A
// cycle already in flight makes this a no-op.
func (a *App) SyncNow(ctx context.Context, email string) (session.Snapshot, error) {
	c, err := a.controller(ctx, normalizeEmail(email))
	if err != nil {
		return session.Snapshot{}, err
	}
	if err := c.Sync(ctx); err != nil {
		return session.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// DrainUpgrade reports and consumes a pending premium-upgrade notification.
func (a *App) DrainUpgrade(email string) bool {
	c, ok := a.activeController(normalizeEmail(email))
	if !ok {
		return false
	}
	select {
	case <-c.Upgraded():
		return true
	default:
		return false
	}
}

// openSession installs and starts a sync controller for a fresh login,
// replacing any previous one for the same email.
func (a *App) openSession(ctx context.Context, user domain.User) {
	c, err := session.NewController(ctx, user.Email, a.gw, a.snapshots, a.syncCfg)
	if err != nil {
		a.logger.Warn("session controller not started", "user", user.Email, "err", err)
		return
	}
	c.Seed(user)

	a.mu.Lock()
	prev := a.controllers[user.Email]
	a.controllers[user.Email] = c
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	c.Start(a.runCtx)
}

// controller returns the active controller for email, creating and starting
// one from the persisted snapshot if none is registered.
func (a *App) controller(ctx context.Context, email string) (*session.Controller, error) {
	if email == "" {
		return nil, ErrUserNotFound
	}
	a.mu.Lock()
	if c, ok := a.controllers[email]; ok {
		a.mu.Unlock()
		return c, nil
	}
	a.mu.Unlock()

	c, err := session.NewController(ctx, email, a.gw, a.snapshots, a.syncCfg)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	a.mu.Lock()
	if existing, ok := a.controllers[email]; ok {
		a.mu.Unlock()
		c.Close()
		return existing, nil
	}
	a.controllers[email] = c
	a.mu.Unlock()
	c.Start(a.runCtx)
	return c, nil
}

func (a *App) activeController(email string) (*session.Controller, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.controllers[email]
	return c, ok
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
