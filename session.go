package main

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

// Broadcaster carries session output back to connected participants.
// Implementations must not block; sends to slow clients are dropped.
type Broadcaster interface {
	Broadcast(event string, data any)
	SendToHost(event string, data any)
	SendTo(playerID string, event string, data any)
}

// Player is one joined participant. The option/answeredAt pair is reset at
// the start of every round.
type Player struct {
	Name        string
	Score       int
	option      string
	answeredAt  time.Time
	lastCorrect bool
}

// sessionQuestion is a quiz question prepared for play: clamped time limit
// and the correct ids indexed for membership checks.
type sessionQuestion struct {
	Question
	limit   time.Duration
	correct map[string]struct{}
}

// round exists only between "question shown" and "question revealed".
type round struct {
	seq       int
	startedAt time.Time
	endsAt    time.Time
	timer     clockwork.Timer
	awaiting  map[string]struct{}
}

// Session is one running quiz: a host, a roster of players, and the round
// lifecycle for a shuffled question sequence. All mutation happens under mu,
// including the round-deadline callback, so a handler and a firing timer
// never interleave mid-update.
type Session struct {
	mu         sync.Mutex
	id         string
	hostID     string
	title      string
	questions  []sessionQuestion
	players    map[string]*Player
	started    bool
	current    int // -1 before the first round
	round      *round
	seq        int // round generation, guards stale timer callbacks
	ended      bool
	maxPlayers int
	clock      clockwork.Clock
	out        Broadcaster
	onEnd      func() // runs once, when the session leaves the registry
}

func newSession(id, hostID, title string, questions []sessionQuestion, maxPlayers int, clock clockwork.Clock, out Broadcaster, onEnd func()) *Session {
	return &Session{
		id:         id,
		hostID:     hostID,
		title:      title,
		questions:  questions,
		players:    make(map[string]*Player),
		current:    -1,
		maxPlayers: maxPlayers,
		clock:      clock,
		out:        out,
		onEnd:      onEnd,
	}
}

func (s *Session) ID() string { return s.id }

// Outbound payloads. Question payloads never include correctness.

type LobbyUpdate struct {
	GameID  string   `json:"gameId"`
	Title   string   `json:"title"`
	Players []string `json:"players"`
}

type GameStarted struct {
	Title string `json:"title"`
}

type QuestionShown struct {
	ID        string   `json:"id"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Text      string   `json:"text"`
	Image     string   `json:"image,omitempty"`
	TimeLimit int      `json:"timeLimit"` // seconds
	Options   []Option `json:"options"`
}

type AnswerAck struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type LeaderboardEntry struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Correct bool   `json:"correct"`
}

type Reveal struct {
	CorrectOptionIDs []string           `json:"correctOptionIds"`
	Index            int                `json:"index"`
	Total            int                `json:"total"`
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
}

type GameOver struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type GameCancelled struct {
	Message string `json:"message"`
}

// Join adds a player to the lobby and returns the quiz title for the join
// acknowledgment. Joining is rejected once the game has started or when the
// roster is at capacity.
func (s *Session) Join(playerID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.started {
		return "", ErrGameNotJoinable
	}
	if len(s.players) >= s.maxPlayers {
		return "", ErrGameFull
	}

	s.players[playerID] = &Player{Name: sanitizeName(name)}
	log.Debug().Str("game", s.id).Str("player", playerID).Msg("player joined")

	s.broadcastLobbyLocked()

	return s.title, nil
}

// Start begins the first round. Only the recorded host may start, and only
// once; anything else is ignored without an error so callers can't probe
// for session existence.
func (s *Session) Start(callerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.started || callerID != s.hostID {
		return
	}

	s.started = true
	log.Debug().Str("game", s.id).Int("players", len(s.players)).Msg("game started")

	s.out.Broadcast("game_started", GameStarted{Title: s.title})
	s.advanceLocked()
}

// Advance moves to the next round, or completes the session when no
// questions remain. Host-only. A request arriving while a round is still
// active would double-advance, so it is suppressed.
func (s *Session) Advance(callerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || !s.started || callerID != s.hostID {
		return
	}
	if s.round != nil {
		return
	}

	s.advanceLocked()
}

func (s *Session) advanceLocked() {
	s.current++
	if s.current >= len(s.questions) {
		s.finishLocked()
		return
	}

	q := s.questions[s.current]
	now := s.clock.Now()

	s.seq++
	r := &round{
		seq:       s.seq,
		startedAt: now,
		endsAt:    now.Add(q.limit),
		awaiting:  make(map[string]struct{}, len(s.players)),
	}
	for id, p := range s.players {
		p.option = ""
		p.answeredAt = time.Time{}
		r.awaiting[id] = struct{}{}
	}

	seq := s.seq
	r.timer = s.clock.AfterFunc(q.limit, func() {
		s.expire(seq)
	})
	s.round = r

	s.out.Broadcast("question", QuestionShown{
		ID:        q.ID,
		Index:     s.current,
		Total:     len(s.questions),
		Text:      q.Text,
		Image:     q.Image,
		TimeLimit: int(q.limit / time.Second),
		Options:   q.Options,
	})

	// Nobody to wait for; reveal right away.
	if len(r.awaiting) == 0 {
		r.timer.Stop()
		s.endRoundLocked()
	}
}

// SubmitAnswer records a player's choice for the current question. Ignored
// when no round is active, the question id is stale, the option id is blank,
// or the player already answered. The last awaited answer cancels the
// deadline timer and ends the round immediately.
func (s *Session) SubmitAnswer(playerID, questionID, optionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.round == nil {
		return
	}
	if s.questions[s.current].ID != questionID || optionID == "" {
		return
	}

	// answeredAt is the answered sentinel; option alone can't be, since the
	// wire format doesn't stop a client from sending an empty option id.
	p, ok := s.players[playerID]
	if !ok || !p.answeredAt.IsZero() {
		return
	}

	p.option = optionID
	p.answeredAt = s.clock.Now()

	s.out.SendTo(playerID, "answer_ack", AnswerAck{
		QuestionID: questionID,
		OptionID:   optionID,
	})

	delete(s.round.awaiting, playerID)
	if len(s.round.awaiting) == 0 {
		s.round.timer.Stop()
		s.endRoundLocked()
	}
}

// RemovePlayer drops a player from the roster. While a round is active,
// losing the last awaited answer (or the last player) ends the round early.
func (s *Session) RemovePlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	if _, ok := s.players[playerID]; !ok {
		return
	}

	delete(s.players, playerID)
	log.Debug().Str("game", s.id).Str("player", playerID).Msg("player left")

	s.broadcastLobbyLocked()

	if s.round == nil {
		return
	}

	delete(s.round.awaiting, playerID)
	if len(s.players) == 0 || len(s.round.awaiting) == 0 {
		s.round.timer.Stop()
		s.endRoundLocked()
	}
}

// Cancel ends the session immediately, whatever state it is in. Used when
// the host disconnects or the server shuts down.
func (s *Session) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	s.out.Broadcast("game_cancelled", GameCancelled{Message: reason})
	s.endLocked()
}

// BroadcastLobby pushes the current roster to the room. The host screen
// uses it to display the join code before anyone has joined.
func (s *Session) BroadcastLobby() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.broadcastLobbyLocked()
}

// expire is the round-deadline callback. The generation check makes a stale
// timer, one that lost the race against the last answer or a disconnect,
// a no-op even if a new round has started since.
func (s *Session) expire(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round == nil || s.round.seq != seq {
		return
	}
	s.endRoundLocked()
}

// endRoundLocked is the single reveal entry point, reachable from the
// deadline timer, the last answer, or a disconnect. Idempotent: once the
// round is cleared, a second call does nothing.
func (s *Session) endRoundLocked() {
	r := s.round
	if r == nil {
		return
	}
	r.timer.Stop()
	s.round = nil

	q := s.questions[s.current]
	for _, p := range s.players {
		_, correct := q.correct[p.option]
		p.lastCorrect = correct
		p.Score += awardPoints(q.limit, r.endsAt, p.answeredAt, correct)
	}

	s.out.Broadcast("reveal", Reveal{
		CorrectOptionIDs: q.CorrectOptionIDs,
		Index:            s.current,
		Total:            len(s.questions),
		Leaderboard:      s.leaderboardLocked(),
	})
	s.out.SendToHost("advance_ready", struct{}{})
}

func (s *Session) finishLocked() {
	log.Debug().Str("game", s.id).Msg("game over")

	s.out.Broadcast("game_over", GameOver{Leaderboard: s.leaderboardLocked()})
	s.endLocked()
}

func (s *Session) endLocked() {
	if s.ended {
		return
	}
	s.ended = true

	if s.round != nil {
		s.round.timer.Stop()
		s.round = nil
	}
	if s.onEnd != nil {
		s.onEnd()
	}
}

func (s *Session) broadcastLobbyLocked() {
	names := make([]string, 0, len(s.players))
	for _, p := range s.players {
		names = append(names, p.Name)
	}
	sort.Strings(names)

	s.out.Broadcast("lobby_update", LobbyUpdate{
		GameID:  s.id,
		Title:   s.title,
		Players: names,
	})
}

// leaderboardLocked builds the public standings: names, cumulative scores,
// and last-round correctness, best score first.
func (s *Session) leaderboardLocked() []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(s.players))
	for _, p := range s.players {
		entries = append(entries, LeaderboardEntry{
			Name:    p.Name,
			Score:   p.Score,
			Correct: p.lastCorrect,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})

	return entries
}

var namePolicy = bluemonday.StrictPolicy()

// sanitizeName strips markup and anything outside a small safe character
// set, then truncates to the display limit.
func sanitizeName(name string) string {
	name = namePolicy.Sanitize(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == ' ', r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, name)
	name = strings.TrimSpace(name)

	if runes := []rune(name); len(runes) > maxNameLength {
		name = strings.TrimSpace(string(runes[:maxNameLength]))
	}

	return name
}
