package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"exampro/pkg/domain"
)

// The document store returns loosely shaped records. Each entity kind gets
// an explicit decoder that validates required fields and fails loudly on
// shape mismatches instead of propagating zero values.

type storeMeta struct {
	ObjectID  string `json:"objectId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func objectID(raw json.RawMessage) (string, error) {
	var meta storeMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	if meta.ObjectID == "" {
		return "", fmt.Errorf("record missing objectId")
	}
	return meta.ObjectID, nil
}

func parseStoreTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type userDoc struct {
	storeMeta
	Email              string             `json:"email"`
	PasswordHash       string             `json:"passwordHash"`
	Name               string             `json:"name"`
	Class              string             `json:"class"`
	TargetExam         string             `json:"targetExam"`
	Role               string             `json:"role"`
	IsPremium          bool               `json:"isPremium"`
	Progress           map[string]float64 `json:"progress"`
	RegisteredSubjects []string           `json:"registeredSubjects"`
	AvatarURL          string             `json:"avatarUrl"`
	Theme              string             `json:"theme"`
	ReferralCode       string             `json:"referralCode"`
	ReferredBy         string             `json:"referredBy"`
	ReferralCount      int                `json:"referralCount"`
}

func decodeUser(raw json.RawMessage) (domain.User, error) {
	var doc userDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.User{}, fmt.Errorf("decode user record: %w", err)
	}
	if doc.ObjectID == "" {
		return domain.User{}, fmt.Errorf("user record missing objectId")
	}
	if doc.Email == "" {
		return domain.User{}, fmt.Errorf("user record %s missing email", doc.ObjectID)
	}
	role := domain.UserRole(doc.Role)
	switch role {
	case domain.RoleStudent, domain.RoleAdmin:
	case "":
		role = domain.RoleStudent
	default:
		return domain.User{}, fmt.Errorf("user record %s has unknown role %q", doc.ObjectID, doc.Role)
	}
	progress := doc.Progress
	if progress == nil {
		progress = map[string]float64{}
	}
	subjects := doc.RegisteredSubjects
	if subjects == nil {
		subjects = []string{}
	}
	return domain.User{
		ID:                 doc.ObjectID,
		Email:              doc.Email,
		PasswordHash:       doc.PasswordHash,
		Name:               doc.Name,
		Class:              domain.StudentClass(doc.Class),
		TargetExam:         domain.ExamType(doc.TargetExam),
		Role:               role,
		IsPremium:          doc.IsPremium,
		Progress:           progress,
		RegisteredSubjects: subjects,
		AvatarURL:          doc.AvatarURL,
		Theme:              domain.ThemeMode(doc.Theme),
		ReferralCode:       doc.ReferralCode,
		ReferredBy:         doc.ReferredBy,
		ReferralCount:      doc.ReferralCount,
		CreatedAt:          parseStoreTime(doc.CreatedAt),
		UpdatedAt:          parseStoreTime(doc.UpdatedAt),
	}, nil
}

// encodeUser builds the write payload. The domain type hides the password
// hash from JSON on purpose, so the wire document is assembled explicitly.
func encodeUser(user domain.User) map[string]any {
	return map[string]any{
		"email":              user.Email,
		"passwordHash":       user.PasswordHash,
		"name":               user.Name,
		"class":              string(user.Class),
		"targetExam":         string(user.TargetExam),
		"role":               string(user.Role),
		"isPremium":          user.IsPremium,
		"progress":           user.Progress,
		"registeredSubjects": user.RegisteredSubjects,
		"avatarUrl":          user.AvatarURL,
		"theme":              string(user.Theme),
		"referralCode":       user.ReferralCode,
		"referredBy":         user.ReferredBy,
		"referralCount":      user.ReferralCount,
	}
}

type subjectDoc struct {
	storeMeta
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

func decodeSubject(raw json.RawMessage) (domain.Subject, error) {
	var doc subjectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Subject{}, fmt.Errorf("decode subject record: %w", err)
	}
	id := doc.ID
	if id == "" {
		id = doc.ObjectID
	}
	if id == "" || doc.Name == "" {
		return domain.Subject{}, fmt.Errorf("subject record missing id or name")
	}
	return domain.Subject{ID: id, Name: doc.Name, Icon: doc.Icon, Color: doc.Color}, nil
}

type questionDoc struct {
	storeMeta
	SubjectID          string   `json:"subjectId"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
}

func decodeQuestion(raw json.RawMessage) (domain.Question, error) {
	var doc questionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Question{}, fmt.Errorf("decode question record: %w", err)
	}
	if doc.ObjectID == "" {
		return domain.Question{}, fmt.Errorf("question record missing objectId")
	}
	if doc.SubjectID == "" {
		return domain.Question{}, fmt.Errorf("question record %s missing subjectId", doc.ObjectID)
	}
	if len(doc.Options) != 4 {
		return domain.Question{}, fmt.Errorf("question record %s has %d options, want 4", doc.ObjectID, len(doc.Options))
	}
	if doc.CorrectAnswerIndex < 0 || doc.CorrectAnswerIndex > 3 {
		return domain.Question{}, fmt.Errorf("question record %s has correctAnswerIndex %d out of range", doc.ObjectID, doc.CorrectAnswerIndex)
	}
	return domain.Question{
		ID:                 doc.ObjectID,
		SubjectID:          doc.SubjectID,
		Text:               doc.Text,
		Options:            doc.Options,
		CorrectAnswerIndex: doc.CorrectAnswerIndex,
		Explanation:        doc.Explanation,
		CreatedAt:          parseStoreTime(doc.CreatedAt),
	}, nil
}

type noteDoc struct {
	storeMeta
	SubjectID    string             `json:"subjectId"`
	Topic        string             `json:"topic"`
	StudentClass string             `json:"studentClass"`
	Chunks       []domain.NoteChunk `json:"chunks"`
}

func decodeNote(raw json.RawMessage) (domain.StudyNote, error) {
	var doc noteDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.StudyNote{}, fmt.Errorf("decode note record: %w", err)
	}
	if doc.ObjectID == "" {
		return domain.StudyNote{}, fmt.Errorf("note record missing objectId")
	}
	if doc.SubjectID == "" || doc.Topic == "" {
		return domain.StudyNote{}, fmt.Errorf("note record %s missing subjectId or topic", doc.ObjectID)
	}
	return domain.StudyNote{
		ID:           doc.ObjectID,
		SubjectID:    doc.SubjectID,
		Topic:        doc.Topic,
		StudentClass: domain.StudentClass(doc.StudentClass),
		Chunks:       doc.Chunks,
		CreatedAt:    parseStoreTime(doc.CreatedAt),
	}, nil
}

type examDoc struct {
	storeMeta
	Title           string   `json:"title"`
	Subjects        []string `json:"subjects"`
	DurationMinutes int      `json:"durationMinutes"`
	QuestionCount   int      `json:"questionCount"`
	Fee             float64  `json:"fee"`
	IsPremium       bool     `json:"isPremium"`
}

func decodeExam(raw json.RawMessage) (domain.MockExam, error) {
	var doc examDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.MockExam{}, fmt.Errorf("decode exam record: %w", err)
	}
	if doc.ObjectID == "" {
		return domain.MockExam{}, fmt.Errorf("exam record missing objectId")
	}
	if doc.Title == "" {
		return domain.MockExam{}, fmt.Errorf("exam record %s missing title", doc.ObjectID)
	}
	return domain.MockExam{
		ID:              doc.ObjectID,
		Title:           doc.Title,
		Subjects:        doc.Subjects,
		DurationMinutes: doc.DurationMinutes,
		QuestionCount:   doc.QuestionCount,
		Fee:             doc.Fee,
		IsPremium:       doc.IsPremium,
	}, nil
}

type paymentDoc struct {
	storeMeta
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	UserEmail string  `json:"userEmail"`
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	PlanID    string  `json:"planId"`
	ProofURL  string  `json:"proofUrl"`
	Timestamp string  `json:"timestamp"`
}

func decodePayment(raw json.RawMessage) (domain.PaymentProof, error) {
	var doc paymentDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.PaymentProof{}, fmt.Errorf("decode payment record: %w", err)
	}
	if doc.ObjectID == "" {
		return domain.PaymentProof{}, fmt.Errorf("payment record missing objectId")
	}
	if doc.UserEmail == "" {
		return domain.PaymentProof{}, fmt.Errorf("payment record %s missing userEmail", doc.ObjectID)
	}
	status := domain.PaymentStatus(doc.Status)
	switch status {
	case domain.PaymentPending, domain.PaymentApproved, domain.PaymentApprovedPendingGrant, domain.PaymentRejected:
	default:
		return domain.PaymentProof{}, fmt.Errorf("payment record %s has unknown status %q", doc.ObjectID, doc.Status)
	}
	ts := parseStoreTime(doc.Timestamp)
	if ts.IsZero() {
		ts = parseStoreTime(doc.CreatedAt)
	}
	return domain.PaymentProof{
		ID:        doc.ObjectID,
		UserID:    doc.UserID,
		UserName:  doc.UserName,
		UserEmail: doc.UserEmail,
		Amount:    doc.Amount,
		Type:      domain.PaymentType(doc.Type),
		Status:    status,
		PlanID:    doc.PlanID,
		ProofURL:  doc.ProofURL,
		Timestamp: ts,
	}, nil
}

type settingsDoc struct {
	storeMeta
	Bank          string `json:"bank"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

func decodeSettings(raw json.RawMessage) (domain.PaymentSettings, error) {
	var doc settingsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.PaymentSettings{}, fmt.Errorf("decode settings record: %w", err)
	}
	if doc.Bank == "" || doc.AccountNumber == "" {
		return domain.PaymentSettings{}, fmt.Errorf("settings record missing bank details")
	}
	return domain.PaymentSettings{
		Bank:          doc.Bank,
		AccountNumber: doc.AccountNumber,
		AccountName:   doc.AccountName,
	}, nil
}
