package domain

import "time"

type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleAdmin   UserRole = "ADMIN"
)

type StudentClass string

const (
	ClassSS1 StudentClass = "SS1"
	ClassSS2 StudentClass = "SS2"
	ClassSS3 StudentClass = "SS3"
)

type ExamType string

const (
	ExamWAEC ExamType = "WAEC"
	ExamJAMB ExamType = "JAMB"
	ExamNECO ExamType = "NECO"
)

type ThemeMode string

const (
	ThemeLight ThemeMode = "light"
	ThemeDark  ThemeMode = "dark"
)

type PaymentType string

const (
	PaymentPremium  PaymentType = "PREMIUM"
	PaymentMockExam PaymentType = "MOCK_EXAM"
)

// PaymentStatus is the lifecycle state of a submitted payment proof.
// ApprovedPendingGrant marks an approval whose premium grant write failed
// and still needs an admin retry.
type PaymentStatus string

const (
	PaymentPending              PaymentStatus = "PENDING"
	PaymentApproved             PaymentStatus = "APPROVED"
	PaymentApprovedPendingGrant PaymentStatus = "APPROVED_PENDING_GRANT"
	PaymentRejected             PaymentStatus = "REJECTED"
)

// User is keyed by email for all upsert logic; the store's opaque id is
// carried in ID but never used as the natural key.
type User struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	PasswordHash       string             `json:"-"`
	Name               string             `json:"name"`
	Class              StudentClass       `json:"class,omitempty"`
	TargetExam         ExamType           `json:"targetExam,omitempty"`
	Role               UserRole           `json:"role"`
	IsPremium          bool               `json:"isPremium"`
	Progress           map[string]float64 `json:"progress"`
	RegisteredSubjects []string           `json:"registeredSubjects"`
	AvatarURL          string             `json:"avatarUrl,omitempty"`
	Theme              ThemeMode          `json:"theme,omitempty"`
	ReferralCode       string             `json:"referralCode,omitempty"`
	ReferredBy         string             `json:"referredBy,omitempty"`
	ReferralCount      int                `json:"referralCount"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

type Subject struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type Question struct {
	ID                 string    `json:"id"`
	SubjectID          string    `json:"subjectId"`
	Text               string    `json:"text"`
	Options            []string  `json:"options"`
	CorrectAnswerIndex int       `json:"correctAnswerIndex"`
	Explanation        string    `json:"explanation"`
	CreatedAt          time.Time `json:"createdAt"`
}

type NoteChunk struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	KeyTakeaway   string `json:"keyTakeaway,omitempty"`
	CommonMistake string `json:"commonMistake,omitempty"`
}

type StudyNote struct {
	ID           string       `json:"id"`
	SubjectID    string       `json:"subjectId"`
	Topic        string       `json:"topic"`
	StudentClass StudentClass `json:"studentClass"`
	Chunks       []NoteChunk  `json:"chunks"`
	CreatedAt    time.Time    `json:"createdAt"`
}

type MockExam struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Subjects        []string `json:"subjects"`
	DurationMinutes int      `json:"durationMinutes"`
	QuestionCount   int      `json:"questionCount"`
	Fee             float64  `json:"fee"`
	IsPremium       bool     `json:"isPremium"`
}

type PaymentProof struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	UserName  string        `json:"userName"`
	UserEmail string        `json:"userEmail"`
	Amount    float64       `json:"amount"`
	Type      PaymentType   `json:"type"`
	Status    PaymentStatus `json:"status"`
	PlanID    string        `json:"planId,omitempty"`
	ProofURL  string        `json:"proofUrl,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type PaymentSettings struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

type PremiumPlan struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Duration string  `json:"duration"`
}

// PremiumPlans is the fixed bank-transfer plan catalog shown in the payment flow.
var PremiumPlans = []PremiumPlan{
	{ID: "monthly", Name: "Monthly Access", Price: 1500, Duration: "month"},
	{ID: "term", Name: "Term Access", Price: 5000, Duration: "term"},
	{ID: "yearly", Name: "Yearly Access", Price: 10000, Duration: "year"},
}

type SubjectReadiness string

const (
	ReadinessUpdating SubjectReadiness = "Updating"
	ReadinessReady    SubjectReadiness = "Ready"
)

const (
	// MinExamReadyQuestions is the question count at which a subject bank
	// counts as exam ready.
	MinExamReadyQuestions = 40
	// MaxSubjectQuestions is the hard ceiling enforced at submission time.
	MaxSubjectQuestions = 70
)

// ReadinessFor reports whether a subject question bank is ready for mock exams.
func ReadinessFor(questionCount int) SubjectReadiness {
	if questionCount >= MinExamReadyQuestions {
		return ReadinessReady
	}
	return ReadinessUpdating
}
