package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	minTimeLimit     = 5 * time.Second
	maxTimeLimit     = 90 * time.Second
	defaultTimeLimit = 20 * time.Second

	maxNameLength = 20
)

// QuizDefinition is the untrusted document a host submits when creating a
// game. Immutable after session creation, except for the per-session
// question shuffle applied by the registry.
type QuizDefinition struct {
	Title     string     `json:"title"`
	TimeLimit int        `json:"timeLimit,omitempty"` // quiz-wide default, seconds
	Questions []Question `json:"questions"`
}

type Question struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Image            string   `json:"image,omitempty"`
	TimeLimit        int      `json:"timeLimit,omitempty"` // seconds; 0 inherits the quiz default
	Options          []Option `json:"options"`
	CorrectOptionIDs []string `json:"correctOptionIds"`
}

type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ParseQuizDefinition decodes and structurally validates a quiz document.
// There are no partial results; any defect rejects the whole document.
//
// Validation is purely structural. Correct option ids are required to be
// non-empty strings but are not checked against the question's option ids;
// a quiz can reference an option that never renders as correct.
func ParseQuizDefinition(data []byte) (*QuizDefinition, error) {
	var quiz QuizDefinition
	if err := json.Unmarshal(data, &quiz); err != nil {
		return nil, fmt.Errorf("decode quiz: %w", err)
	}

	if strings.TrimSpace(quiz.Title) == "" {
		return nil, fmt.Errorf("quiz title is required")
	}
	if len(quiz.Questions) == 0 {
		return nil, fmt.Errorf("quiz must contain at least one question")
	}

	seen := make(map[string]struct{}, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if err := validateQuestion(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("question %d: duplicate id %q", i, q.ID)
		}
		seen[q.ID] = struct{}{}
	}

	return &quiz, nil
}

func validateQuestion(q Question) error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("at least two options are required")
	}

	ids := make(map[string]struct{}, len(q.Options))
	for i, o := range q.Options {
		if strings.TrimSpace(o.ID) == "" || strings.TrimSpace(o.Label) == "" {
			return fmt.Errorf("option %d: id and label are required", i)
		}
		if _, dup := ids[o.ID]; dup {
			return fmt.Errorf("option %d: duplicate id %q", i, o.ID)
		}
		ids[o.ID] = struct{}{}
	}

	if len(q.CorrectOptionIDs) == 0 {
		return fmt.Errorf("at least one correct option id is required")
	}
	for i, id := range q.CorrectOptionIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("correct option id %d is empty", i)
		}
	}

	return nil
}

// clampTimeLimit bounds a per-question limit, falling back to the quiz-wide
// default (itself clamped) when unset.
func clampTimeLimit(seconds int, quizDefault time.Duration) time.Duration {
	if seconds <= 0 {
		return quizDefault
	}

	limit := time.Duration(seconds) * time.Second
	switch {
	case limit < minTimeLimit:
		return minTimeLimit
	case limit > maxTimeLimit:
		return maxTimeLimit
	}
	return limit
}
