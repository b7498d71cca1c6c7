package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"exampro/pkg/domain"
	"exampro/pkg/entitlement"
	"exampro/pkg/parse"
)

const (
	classUsers     = "Users"
	classSubjects  = "Subjects"
	classQuestions = "Questions"
	classNotes     = "Notes"
	classExams     = "Exams"
	classPayments  = "Payments"
	classSettings  = "Settings"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrQuestionLimit is returned when a subject bank already holds the
	// maximum number of questions.
	ErrQuestionLimit = errors.New("maximum question limit reached for this subject")

	// ErrGrantPending is returned when a payment was approved but the
	// premium grant write failed. The payment is left in
	// APPROVED_PENDING_GRANT so the admin can retry the approval.
	ErrGrantPending = errors.New("payment approved but premium grant is pending, retry approval")

	// ErrPaymentUserMissing means the proof's stored email resolves to no
	// user record; the admin must fix the account before retrying.
	ErrPaymentUserMissing = errors.New("no user account matches the payment email")
)

// Client is the typed gateway over the hosted document store. Each entity
// kind maps to one collection; lookups on users go through the email natural
// key, never the store's opaque id.
type Client struct {
	parse *parse.Client
}

// New wraps a document store client.
func New(pc *parse.Client) *Client {
	return &Client{parse: pc}
}

// ---- users ----

// GetUserByEmail looks a user up by the email natural key.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	email = normalizeEmail(email)
	raws, err := c.parse.List(ctx, classUsers, parse.Query{Where: map[string]any{"email": email}, Limit: 1})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("query user by email: %w", err)
	}
	if len(raws) == 0 {
		return domain.User{}, false, nil
	}
	user, err := decodeUser(raws[0])
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

func (c *Client) getUserByReferralCode(ctx context.Context, code string) (domain.User, bool, error) {
	raws, err := c.parse.List(ctx, classUsers, parse.Query{Where: map[string]any{"referralCode": code}, Limit: 1})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("query user by referral code: %w", err)
	}
	if len(raws) == 0 {
		return domain.User{}, false, nil
	}
	user, err := decodeUser(raws[0])
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

// ListUsers returns every user record.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	raws, err := c.parse.List(ctx, classUsers, parse.Query{Order: "-createdAt"})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]domain.User, 0, len(raws))
	for _, raw := range raws {
		user, err := decodeUser(raw)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// SaveUser upserts a user by email. The existence check runs before the
// write so two saves with the same email always land on one record.
// On first creation it assigns a referral code when absent and credits the
// referrer named by ReferredBy, if any; an unknown referral code is ignored.
func (c *Client) SaveUser(ctx context.Context, user domain.User) (domain.User, error) {
	user.Email = normalizeEmail(user.Email)
	if user.Email == "" {
		return domain.User{}, errors.New("user email required")
	}
	existing, found, err := c.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return domain.User{}, err
	}
	user.UpdatedAt = time.Now().UTC()
	if found {
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
		if user.ReferralCode == "" {
			user.ReferralCode = existing.ReferralCode
		}
		if err := c.parse.Update(ctx, classUsers, existing.ID, encodeUser(user)); err != nil {
			return domain.User{}, fmt.Errorf("update user: %w", err)
		}
		return user, nil
	}

	if user.ReferralCode == "" {
		user.ReferralCode = newReferralCode(user.Name)
	}
	user.CreatedAt = user.UpdatedAt
	id, err := c.parse.Create(ctx, classUsers, encodeUser(user))
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	user.ID = id

	if code := strings.TrimSpace(user.ReferredBy); code != "" {
		if err := c.creditReferrer(ctx, code); err != nil {
			// Registration already succeeded; the missed credit is not
			// worth failing the signup over.
			slog.Warn("referral credit failed", "code", code, "err", err)
		}
	}
	return user, nil
}

func (c *Client) creditReferrer(ctx context.Context, code string) error {
	referrer, found, err := c.getUserByReferralCode(ctx, code)
	if err != nil {
		return err
	}
	if !found {
		// Unknown codes are not an error; the save already succeeded.
		return nil
	}
	return c.parse.Update(ctx, classUsers, referrer.ID, map[string]any{
		"referralCount": parse.Increment(1),
	})
}

// ---- subjects ----

// ListSubjects returns the subject catalog, degrading to the built-in
// default set when the store is empty or unreachable.
func (c *Client) ListSubjects(ctx context.Context) ([]domain.Subject, error) {
	raws, err := c.parse.List(ctx, classSubjects, parse.Query{})
	if err != nil {
		if errors.Is(err, parse.ErrUnavailable) {
			return defaultSubjects(), nil
		}
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	if len(raws) == 0 {
		return defaultSubjects(), nil
	}
	subjects := make([]domain.Subject, 0, len(raws))
	for _, raw := range raws {
		subject, err := decodeSubject(raw)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, nil
}

// ---- settings ----

// GetSettings returns the bank transfer details, falling back to the
// built-in account when none are stored or the store is unreachable.
func (c *Client) GetSettings(ctx context.Context) (domain.PaymentSettings, error) {
	raws, err := c.parse.List(ctx, classSettings, parse.Query{Limit: 1})
	if err != nil {
		if errors.Is(err, parse.ErrUnavailable) {
			return defaultSettings(), nil
		}
		return domain.PaymentSettings{}, fmt.Errorf("get settings: %w", err)
	}
	if len(raws) == 0 {
		return defaultSettings(), nil
	}
	return decodeSettings(raws[0])
}

// UpdateSettings writes the singleton settings record, creating it lazily on
// the first update.
func (c *Client) UpdateSettings(ctx context.Context, settings domain.PaymentSettings) error {
	raws, err := c.parse.List(ctx, classSettings, parse.Query{Limit: 1})
	if err != nil {
		return fmt.Errorf("check settings: %w", err)
	}
	if len(raws) > 0 {
		id, err := objectID(raws[0])
		if err != nil {
			return err
		}
		if err := c.parse.Update(ctx, classSettings, id, settings); err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		return nil
	}
	if _, err := c.parse.Create(ctx, classSettings, settings); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// ---- questions ----

// ListQuestions returns questions, optionally scoped to one subject.
func (c *Client) ListQuestions(ctx context.Context, subjectID string) ([]domain.Question, error) {
	q := parse.Query{}
	if subjectID != "" {
		q.Where = map[string]any{"subjectId": subjectID}
	}
	raws, err := c.parse.List(ctx, classQuestions, q)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	questions := make([]domain.Question, 0, len(raws))
	for _, raw := range raws {
		question, err := decodeQuestion(raw)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, nil
}

// SaveQuestion stores a new question, enforcing the per-subject ceiling.
func (c *Client) SaveQuestion(ctx context.Context, question domain.Question) (domain.Question, error) {
	if question.SubjectID == "" {
		return domain.Question{}, errors.New("question subject required")
	}
	if len(question.Options) != 4 {
		return domain.Question{}, errors.New("question requires exactly 4 options")
	}
	if question.CorrectAnswerIndex < 0 || question.CorrectAnswerIndex > 3 {
		return domain.Question{}, errors.New("correct answer index out of range")
	}
	existing, err := c.ListQuestions(ctx, question.SubjectID)
	if err != nil {
		return domain.Question{}, err
	}
	if len(existing) >= domain.MaxSubjectQuestions {
		return domain.Question{}, ErrQuestionLimit
	}
	question.CreatedAt = time.Now().UTC()
	id, err := c.parse.Create(ctx, classQuestions, question)
	if err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	question.ID = id
	return question, nil
}

// ---- notes ----

// ListNotes returns study notes, optionally scoped to one subject.
func (c *Client) ListNotes(ctx context.Context, subjectID string) ([]domain.StudyNote, error) {
	q := parse.Query{}
	if subjectID != "" {
		q.Where = map[string]any{"subjectId": subjectID}
	}
	raws, err := c.parse.List(ctx, classNotes, q)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]domain.StudyNote, 0, len(raws))
	for _, raw := range raws {
		note, err := decodeNote(raw)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// SaveNote stores a study note.
func (c *Client) SaveNote(ctx context.Context, note domain.StudyNote) (domain.StudyNote, error) {
	if note.SubjectID == "" || note.Topic == "" {
		return domain.StudyNote{}, errors.New("note subject and topic required")
	}
	note.CreatedAt = time.Now().UTC()
	id, err := c.parse.Create(ctx, classNotes, note)
	if err != nil {
		return domain.StudyNote{}, fmt.Errorf("create note: %w", err)
	}
	note.ID = id
	return note, nil
}

// ---- exams ----

// ListExams returns the mock exam catalog.
func (c *Client) ListExams(ctx context.Context) ([]domain.MockExam, error) {
	raws, err := c.parse.List(ctx, classExams, parse.Query{})
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	exams := make([]domain.MockExam, 0, len(raws))
	for _, raw := range raws {
		exam, err := decodeExam(raw)
		if err != nil {
			return nil, err
		}
		exams = append(exams, exam)
	}
	return exams, nil
}

// AddExam stores a new mock exam.
func (c *Client) AddExam(ctx context.Context, exam domain.MockExam) (domain.MockExam, error) {
	if exam.Title == "" {
		return domain.MockExam{}, errors.New("exam title required")
	}
	id, err := c.parse.Create(ctx, classExams, exam)
	if err != nil {
		return domain.MockExam{}, fmt.Errorf("create exam: %w", err)
	}
	exam.ID = id
	return exam, nil
}

// ---- payments ----

// ListPayments returns payment proofs, newest first.
func (c *Client) ListPayments(ctx context.Context) ([]domain.PaymentProof, error) {
	raws, err := c.parse.List(ctx, classPayments, parse.Query{Order: "-createdAt"})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	payments := make([]domain.PaymentProof, 0, len(raws))
	for _, raw := range raws {
		payment, err := decodePayment(raw)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

// GetPayment fetches one payment proof.
func (c *Client) GetPayment(ctx context.Context, id string) (domain.PaymentProof, bool, error) {
	raw, err := c.parse.Get(ctx, classPayments, id)
	if err != nil {
		var apiErr *parse.Error
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return domain.PaymentProof{}, false, nil
		}
		return domain.PaymentProof{}, false, fmt.Errorf("get payment: %w", err)
	}
	payment, err := decodePayment(raw)
	if err != nil {
		return domain.PaymentProof{}, false, err
	}
	return payment, true, nil
}

// SubmitPayment stores a new proof in PENDING state.
func (c *Client) SubmitPayment(ctx context.Context, payment domain.PaymentProof) (domain.PaymentProof, error) {
	if payment.UserEmail == "" {
		return domain.PaymentProof{}, errors.New("payment user email required")
	}
	if payment.Amount <= 0 {
		return domain.PaymentProof{}, errors.New("payment amount required")
	}
	payment.Status = domain.PaymentPending
	payment.Timestamp = time.Now().UTC()
	id, err := c.parse.Create(ctx, classPayments, payment)
	if err != nil {
		return domain.PaymentProof{}, fmt.Errorf("create payment: %w", err)
	}
	payment.ID = id
	return payment, nil
}

// UpdatePaymentStatus applies an admin decision to a proof. Approval also
// grants the linked user's premium entitlement; the two writes are not
// atomic, so a failed grant leaves the proof in APPROVED_PENDING_GRANT and
// returns ErrGrantPending for a visible admin retry. Re-approving an APPROVED
// proof skips the status write but still re-confirms the grant, covering a
// proof stranded in APPROVED when the compensating write itself failed.
func (c *Client) UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.PaymentStatus) (domain.PaymentProof, error) {
	payment, found, err := c.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.PaymentProof{}, err
	}
	if !found {
		return domain.PaymentProof{}, ErrPaymentNotFound
	}
	decision, err := entitlement.Decide(payment.Status, status)
	if err != nil {
		return domain.PaymentProof{}, err
	}
	if decision.Apply {
		if err := c.parse.Update(ctx, classPayments, paymentID, map[string]any{"status": status}); err != nil {
			return domain.PaymentProof{}, fmt.Errorf("update payment status: %w", err)
		}
		payment.Status = status
	}

	if decision.GrantPremium {
		if err := c.grantPremium(ctx, payment.UserEmail); err != nil {
			c.markGrantPending(ctx, paymentID)
			payment.Status = domain.PaymentApprovedPendingGrant
			return payment, fmt.Errorf("%w: %v", ErrGrantPending, err)
		}
	}
	return payment, nil
}

func (c *Client) grantPremium(ctx context.Context, email string) error {
	user, found, err := c.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return ErrPaymentUserMissing
	}
	if user.IsPremium {
		return nil
	}
	return c.parse.Update(ctx, classUsers, user.ID, map[string]any{"isPremium": true})
}

func (c *Client) markGrantPending(ctx context.Context, paymentID string) {
	err := c.parse.Update(ctx, classPayments, paymentID, map[string]any{
		"status": domain.PaymentApprovedPendingGrant,
	})
	if err != nil {
		slog.Error("failed to mark payment grant-pending", "payment_id", paymentID, "err", err)
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// newReferralCode builds a short shareable code: three letters from the
// user's name plus four random digits.
func newReferralCode(name string) string {
	letters := make([]rune, 0, 3)
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
			if len(letters) == 3 {
				break
			}
		}
	}
	for len(letters) < 3 {
		letters = append(letters, 'X')
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	digits := make([]byte, 4)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(letters) + string(digits)
}
