// Package session owns the per-user sync loop and the durable snapshot of
// server state each signed-in user works against.
package session

import (
	"context"

	"exampro/pkg/domain"
)

// Snapshot is the full client-visible state for one user: the account record
// plus the cached catalogs it browses.
type Snapshot struct {
	User     domain.User        `json:"user"`
	Subjects []domain.Subject   `json:"subjects"`
	Exams    []domain.MockExam  `json:"exams"`
	Notes    []domain.StudyNote `json:"notes"`
}

// Store persists snapshots across restarts so a returning user sees their
// last known state before the first sync cycle completes.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, email string) (Snapshot, bool, error)
	Clear(ctx context.Context, email string) error
}

// DataSource is the remote side of a sync cycle.
type DataSource interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	ListSubjects(ctx context.Context) ([]domain.Subject, error)
	ListExams(ctx context.Context) ([]domain.MockExam, error)
	ListNotes(ctx context.Context, subjectID string) ([]domain.StudyNote, error)
}
