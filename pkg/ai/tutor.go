package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"exampro/pkg/domain"
)

// Tutor answers student questions and produces study material through a
// generation provider. Structured output goes through schema-constrained
// JSON generation and is validated before it reaches callers.
type Tutor struct {
	gen Generator
}

// NewTutor builds a tutor on top of a Generator.
func NewTutor(gen Generator) *Tutor {
	return &Tutor{gen: gen}
}

const tutorSystemPrompt = `You are ExamPro AI, a friendly Nigerian tutor helping secondary school students prepare for WAEC, JAMB and NECO. Respond in a helpful, encouraging way. Use Nigerian context where appropriate.`

// Answer responds to a free-form student query. Optional context (for
// example the note the student is reading) is prepended to the prompt.
func (t *Tutor) Answer(ctx context.Context, query, studyContext string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query required")
	}
	prompt := query
	if studyContext = strings.TrimSpace(studyContext); studyContext != "" {
		prompt = fmt.Sprintf("Context: %s\n\nUser Query: %s", studyContext, query)
	}
	answer, err := t.gen.GenerateText(ctx, tutorSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("tutor answer: %w", err)
	}
	return answer, nil
}

var notesSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"topic": map[string]any{"type": "STRING"},
		"chunks": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"title":         map[string]any{"type": "STRING"},
					"content":       map[string]any{"type": "STRING"},
					"keyTakeaway":   map[string]any{"type": "STRING"},
					"commonMistake": map[string]any{"type": "STRING"},
				},
				"required": []string{"title", "content"},
			},
		},
	},
	"required": []string{"topic", "chunks"},
}

// GenerateNotes produces simplified study notes for a topic, broken into
// chunks with takeaways and common exam mistakes.
func (t *Tutor) GenerateNotes(ctx context.Context, topic, subject string, class domain.StudentClass) (domain.StudyNote, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || strings.TrimSpace(subject) == "" {
		return domain.StudyNote{}, fmt.Errorf("topic and subject required")
	}
	system := fmt.Sprintf("You are an expert Nigerian teacher for secondary school students (%s).", class)
	prompt := fmt.Sprintf(`Generate simplified, engaging study notes for the topic: %q in the subject: %q. Break the content into small chunks. Use relatable Nigerian examples. Highlight common mistakes students make in exams like WAEC/JAMB.`, topic, subject)

	raw, err := t.gen.GenerateJSON(ctx, system, prompt, notesSchema)
	if err != nil {
		return domain.StudyNote{}, fmt.Errorf("generate notes: %w", err)
	}
	var out struct {
		Topic  string             `json:"topic"`
		Chunks []domain.NoteChunk `json:"chunks"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.StudyNote{}, fmt.Errorf("decode notes: %w", err)
	}
	if len(out.Chunks) == 0 {
		return domain.StudyNote{}, fmt.Errorf("generated notes have no chunks")
	}
	for i, chunk := range out.Chunks {
		if chunk.Title == "" || chunk.Content == "" {
			return domain.StudyNote{}, fmt.Errorf("generated chunk %d missing title or content", i)
		}
	}
	if out.Topic == "" {
		out.Topic = topic
	}
	return domain.StudyNote{
		SubjectID:    subject,
		Topic:        out.Topic,
		StudentClass: class,
		Chunks:       out.Chunks,
	}, nil
}

var quizSchema = map[string]any{
	"type": "ARRAY",
	"items": map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"question":           map[string]any{"type": "STRING"},
			"options":            map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
			"correctAnswerIndex": map[string]any{"type": "NUMBER"},
			"explanation":        map[string]any{"type": "STRING"},
		},
		"required": []string{"question", "options", "correctAnswerIndex", "explanation"},
	},
}

// GenerateQuiz produces multiple choice questions at WAEC/JAMB level. Count
// is clamped to 1..20.
func (t *Tutor) GenerateQuiz(ctx context.Context, topic string, count int) ([]domain.Question, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic required")
	}
	if count < 1 {
		count = 5
	}
	if count > 20 {
		count = 20
	}
	prompt := fmt.Sprintf("Generate %d multiple choice questions for the topic %q suitable for JAMB/WAEC level. Each question must have exactly 4 options.", count, topic)

	raw, err := t.gen.GenerateJSON(ctx, "", prompt, quizSchema)
	if err != nil {
		return nil, fmt.Errorf("generate quiz: %w", err)
	}
	var items []struct {
		Question           string   `json:"question"`
		Options            []string `json:"options"`
		CorrectAnswerIndex int      `json:"correctAnswerIndex"`
		Explanation        string   `json:"explanation"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode quiz: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("generated quiz has no questions")
	}
	questions := make([]domain.Question, 0, len(items))
	for i, item := range items {
		if item.Question == "" {
			return nil, fmt.Errorf("generated question %d is empty", i)
		}
		if len(item.Options) != 4 {
			return nil, fmt.Errorf("generated question %d has %d options, want 4", i, len(item.Options))
		}
		if item.CorrectAnswerIndex < 0 || item.CorrectAnswerIndex > 3 {
			return nil, fmt.Errorf("generated question %d has answer index %d out of range", i, item.CorrectAnswerIndex)
		}
		questions = append(questions, domain.Question{
			Text:               item.Question,
			Options:            item.Options,
			CorrectAnswerIndex: item.CorrectAnswerIndex,
			Explanation:        item.Explanation,
		})
	}
	return questions, nil
}
