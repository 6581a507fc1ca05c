package main

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Join codes get typed on phones, so the alphabet skips lookalikes.
const gameIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const gameIDLength = 6

// Registry owns every live session, from creation until the session ends or
// its host walks away. It enforces the global session ceiling.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	maxGames     int
	maxPlayers   int
	defaultLimit time.Duration
	clock        clockwork.Clock
}

func newRegistry(maxGames, maxPlayers int, defaultLimit time.Duration, clock clockwork.Clock) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		maxGames:     maxGames,
		maxPlayers:   maxPlayers,
		defaultLimit: defaultLimit,
		clock:        clock,
	}
}

// Create builds a session from a validated quiz: unique id, independently
// shuffled question order, clamped time limits. Fails once the live-session
// ceiling is reached. cleanup (optional) runs after the session removes
// itself from the registry.
func (reg *Registry) Create(hostID string, quiz *QuizDefinition, out Broadcaster, cleanup func(id string)) (*Session, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(reg.sessions) >= reg.maxGames {
		return nil, ErrTooManyGames
	}

	id := reg.newGameIDLocked()
	s := newSession(id, hostID, quiz.Title, reg.prepareQuestions(quiz), reg.maxPlayers, reg.clock, out, func() {
		reg.Remove(id)
		if cleanup != nil {
			cleanup(id)
		}
	})
	reg.sessions[id] = s

	log.Info().Str("game", id).Str("title", quiz.Title).Int("questions", len(quiz.Questions)).Msg("game created")

	return s, nil
}

func (reg *Registry) Get(id string) (*Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	s, ok := reg.sessions[id]
	return s, ok
}

// Remove deletes a session; removing an unknown id is a no-op.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.sessions[id]; ok {
		delete(reg.sessions, id)
		log.Info().Str("game", id).Msg("game removed")
	}
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return len(reg.sessions)
}

// CancelAll ends every live session, for graceful shutdown. Sessions are
// snapshotted first since cancellation removes them from the map.
func (reg *Registry) CancelAll(reason string) {
	reg.mu.Lock()
	sessions := make([]*Session, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		sessions = append(sessions, s)
	}
	reg.mu.Unlock()

	for _, s := range sessions {
		s.Cancel(reason)
	}
}

// prepareQuestions clamps time limits and applies a fresh uniform shuffle,
// so each session plays the same quiz in its own order.
func (reg *Registry) prepareQuestions(quiz *QuizDefinition) []sessionQuestion {
	quizDefault := clampTimeLimit(quiz.TimeLimit, reg.defaultLimit)

	questions := make([]sessionQuestion, len(quiz.Questions))
	for i, q := range quiz.Questions {
		correct := make(map[string]struct{}, len(q.CorrectOptionIDs))
		for _, id := range q.CorrectOptionIDs {
			correct[id] = struct{}{}
		}
		questions[i] = sessionQuestion{
			Question: q,
			limit:    clampTimeLimit(q.TimeLimit, quizDefault),
			correct:  correct,
		}
	}

	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	return questions
}

// newGameIDLocked generates a crypto-random join code, retrying on the
// unlikely collision with a live session.
func (reg *Registry) newGameIDLocked() string {
	for {
		buf := make([]byte, gameIDLength)
		if _, err := cryptorand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		out := make([]byte, gameIDLength)
		for i := range out {
			out[i] = gameIDAlphabet[int(buf[i])%len(gameIDAlphabet)]
		}
		id := string(out)

		if _, exists := reg.sessions[id]; !exists {
			return id
		}
	}
}
