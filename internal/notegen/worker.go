// Package notegen runs the background worker that turns queued note requests
// into stored study notes.
package notegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"exampro/pkg/domain"
	"exampro/pkg/queue"
)

// Jobs is the consuming side of the note queue.
type Jobs interface {
	Start(ctx context.Context, concurrency int, handler func(context.Context, queue.JobStatus) error)
}

// Generator produces a structured study note for a topic.
type Generator interface {
	GenerateNotes(ctx context.Context, topic, subject string, class domain.StudentClass) (domain.StudyNote, error)
}

// NoteStore is the slice of the store gateway the worker writes through.
type NoteStore interface {
	ListSubjects(ctx context.Context) ([]domain.Subject, error)
	SaveNote(ctx context.Context, note domain.StudyNote) (domain.StudyNote, error)
}

// Worker consumes note-generation jobs. AI and store failures fail the job
// for a queue-level retry; they never stop the worker.
type Worker struct {
	jobs    Jobs
	tutor   Generator
	store   NoteStore
	workers int
	logger  *slog.Logger
}

// New builds a worker with the given concurrency.
func New(jobs Jobs, tutor Generator, store NoteStore, workers int, logger *slog.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{jobs: jobs, tutor: tutor, store: store, workers: workers, logger: logger}
}

// Start launches the consumers; they exit when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	w.jobs.Start(ctx, w.workers, w.handle)
}

func (w *Worker) handle(ctx context.Context, job queue.JobStatus) error {
	req := job.Request
	subjectName := w.subjectName(ctx, req.SubjectID)
	class := domain.StudentClass(strings.TrimSpace(req.Class))

	note, err := w.tutor.GenerateNotes(ctx, req.Topic, subjectName, class)
	if err != nil {
		w.logger.Warn("note generation failed", "job_id", job.ID, "topic", req.Topic, "err", err)
		return fmt.Errorf("generate notes: %w", err)
	}
	note.SubjectID = req.SubjectID
	note.StudentClass = class

	saved, err := w.store.SaveNote(ctx, note)
	if err != nil {
		w.logger.Warn("note save failed", "job_id", job.ID, "topic", req.Topic, "err", err)
		return fmt.Errorf("save note: %w", err)
	}
	w.logger.Info("note generated", "job_id", job.ID, "note_id", saved.ID, "topic", req.Topic)
	return nil
}

// subjectName resolves the display name for the prompt; the raw id still
// works when the catalog read fails.
func (w *Worker) subjectName(ctx context.Context, subjectID string) string {
	subjects, err := w.store.ListSubjects(ctx)
	if err != nil {
		w.logger.Warn("subject lookup failed", "subject_id", subjectID, "err", err)
		return subjectID
	}
	for _, subject := range subjects {
		if subject.ID == subjectID {
			return subject.Name
		}
	}
	return subjectID
}
