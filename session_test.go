package main

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, questions int, clock clockwork.Clock) (*Registry, *Session, *recorder) {
	t.Helper()

	reg := newTestRegistry(clock)
	rec := &recorder{}
	s, err := reg.Create("host", testQuiz(questions), rec, nil)
	require.NoError(t, err)

	return reg, s, rec
}

func revealOf(t *testing.T, e recordedEvent) Reveal {
	t.Helper()

	reveal, ok := e.data.(Reveal)
	require.True(t, ok, "reveal payload has unexpected type %T", e.data)
	return reveal
}

func TestStartRequiresHost(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 2, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("intruder")
	require.Zero(t, rec.count("game_started"), "non-host start must be ignored")

	s.Start("host")
	require.Equal(t, 1, rec.count("game_started"))
	require.Equal(t, 1, rec.count("question"))

	s.Start("host")
	require.Equal(t, 1, rec.count("game_started"), "second start must be ignored")
	require.Equal(t, 1, rec.count("question"))
}

func TestPlaythroughShowsEveryQuestionOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, s, rec := newTestSession(t, 5, clock)

	s.Start("host")
	for i := 0; i < 5; i++ {
		s.Advance("host")
	}

	require.Equal(t, 5, rec.count("question"))
	require.Equal(t, 5, rec.count("reveal"))
	require.Equal(t, 1, rec.count("game_over"))
	require.Zero(t, reg.Len(), "completed session leaves the registry")

	// The questions shown are a permutation of the quiz.
	want := map[string]struct{}{"q1": {}, "q2": {}, "q3": {}, "q4": {}, "q5": {}}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		if e.event != "question" {
			continue
		}
		shown := e.data.(QuestionShown)
		_, ok := want[shown.ID]
		require.True(t, ok, "question %s shown twice or never defined", shown.ID)
		delete(want, shown.ID)
	}
	require.Empty(t, want)
}

func TestEmptyGameCompletesAfterTwoAdvances(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, s, rec := newTestSession(t, 2, clock)

	s.Start("host")
	s.Advance("host")
	s.Advance("host")

	require.Equal(t, 1, rec.count("game_over"))
	require.Zero(t, reg.Len())

	over, ok := rec.last("game_over")
	require.True(t, ok)
	require.Empty(t, over.data.(GameOver).Leaderboard)
}

func TestAllAnsweredEndsRoundEarly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)
	_, err = s.Join("p2", "bob")
	require.NoError(t, err)

	s.Start("host")
	require.Zero(t, rec.count("reveal"))

	s.SubmitAnswer("p1", "q1", "a")
	require.Zero(t, rec.count("reveal"), "round stays open while an answer is outstanding")
	require.Equal(t, 1, rec.count("answer_ack"))

	clock.Advance(5 * time.Second)
	s.SubmitAnswer("p2", "q1", "b")
	require.Equal(t, 1, rec.count("reveal"), "last answer ends the round immediately")

	// The cancelled deadline timer must not produce a second reveal.
	clock.Advance(time.Minute)
	require.Equal(t, 1, rec.count("reveal"))

	reveal := revealOf(t, mustLast(t, rec, "reveal"))
	require.Equal(t, []string{"a"}, reveal.CorrectOptionIDs)
	require.Equal(t, []LeaderboardEntry{
		{Name: "alice", Score: 1000, Correct: true}, // answered instantly, full bonus
		{Name: "bob", Score: 0, Correct: false},
	}, reveal.Leaderboard)
}

func mustLast(t *testing.T, rec *recorder, event string) recordedEvent {
	t.Helper()

	e, ok := rec.last(event)
	require.True(t, ok, "no %s event recorded", event)
	return e
}

func TestDeadlineRevealsUnansweredRound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")

	clock.Advance(20 * time.Second)

	require.Eventually(t, func() bool {
		return rec.count("reveal") == 1
	}, time.Second, 10*time.Millisecond, "deadline must fire the reveal")

	reveal := revealOf(t, mustLast(t, rec, "reveal"))
	require.Equal(t, []LeaderboardEntry{{Name: "alice", Score: 0, Correct: false}}, reveal.Leaderboard)
}

func TestDoubleAnswerIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)
	_, err = s.Join("p2", "bob")
	require.NoError(t, err)

	s.Start("host")

	s.SubmitAnswer("p1", "q1", "b")
	s.SubmitAnswer("p1", "q1", "a") // too late, choice already locked
	require.Equal(t, 1, rec.count("answer_ack"))

	s.SubmitAnswer("p2", "q1", "a")

	reveal := revealOf(t, mustLast(t, rec, "reveal"))
	require.Equal(t, []LeaderboardEntry{
		{Name: "bob", Score: 1000, Correct: true},
		{Name: "alice", Score: 0, Correct: false},
	}, reveal.Leaderboard)
}

func TestBlankOptionSubmissionIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")

	// A raw client can put an empty optionId on the wire; it must not count
	// as an answer, or a later real submission would be scored twice.
	s.SubmitAnswer("p1", "q1", "")
	require.Zero(t, rec.count("answer_ack"), "blank option must not be acked")
	require.Zero(t, rec.count("reveal"), "blank option must not satisfy the awaited set")

	s.SubmitAnswer("p1", "q1", "a")
	require.Equal(t, 1, rec.count("answer_ack"))
	require.Equal(t, 1, rec.count("reveal"))

	s.SubmitAnswer("p1", "q1", "b")
	require.Equal(t, 1, rec.count("answer_ack"), "locked-in answer must stay locked")

	reveal := revealOf(t, mustLast(t, rec, "reveal"))
	require.Equal(t, []LeaderboardEntry{{Name: "alice", Score: 1000, Correct: true}}, reveal.Leaderboard)
}

func TestAnswerIgnoredOutsideActiveRound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 2, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	// Before the game starts.
	s.SubmitAnswer("p1", "q1", "a")
	require.Zero(t, rec.count("answer_ack"))

	s.Start("host")

	// Stale question id.
	shown := mustLast(t, rec, "question").data.(QuestionShown)
	s.SubmitAnswer("p1", "not-"+shown.ID, "a")
	require.Zero(t, rec.count("answer_ack"))

	// Unknown player.
	s.SubmitAnswer("ghost", shown.ID, "a")
	require.Zero(t, rec.count("answer_ack"))
}

func TestJoinRules(t *testing.T) {
	clock := clockwork.NewFakeClock()

	t.Run("after start", func(t *testing.T) {
		_, s, _ := newTestSession(t, 1, clock)
		s.Start("host")

		_, err := s.Join("p1", "alice")
		require.ErrorIs(t, err, ErrGameNotJoinable)
	})

	t.Run("at capacity", func(t *testing.T) {
		reg := newRegistry(100, 2, defaultTimeLimit, clock)
		rec := &recorder{}
		s, err := reg.Create("host", testQuiz(1), rec, nil)
		require.NoError(t, err)

		_, err = s.Join("p1", "alice")
		require.NoError(t, err)
		_, err = s.Join("p2", "bob")
		require.NoError(t, err)

		_, err = s.Join("p3", "carol")
		require.ErrorIs(t, err, ErrGameFull)

		roster := mustLast(t, rec, "lobby_update").data.(LobbyUpdate)
		require.Equal(t, []string{"alice", "bob"}, roster.Players, "rejected join must not mutate the roster")
	})

	t.Run("returns title", func(t *testing.T) {
		_, s, _ := newTestSession(t, 1, clock)

		title, err := s.Join("p1", "alice")
		require.NoError(t, err)
		require.Equal(t, "Trivia Night", title)
	})
}

func TestPlayerDisconnectEndsRoundEarly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)
	_, err = s.Join("p2", "bob")
	require.NoError(t, err)

	s.Start("host")
	s.SubmitAnswer("p1", "q1", "a")
	require.Zero(t, rec.count("reveal"))

	s.RemovePlayer("p2")
	require.Equal(t, 1, rec.count("reveal"), "losing the last awaited player ends the round")

	reveal := revealOf(t, mustLast(t, rec, "reveal"))
	require.Equal(t, []LeaderboardEntry{{Name: "alice", Score: 1000, Correct: true}}, reveal.Leaderboard)

	clock.Advance(time.Minute)
	require.Equal(t, 1, rec.count("reveal"))
}

func TestLastPlayerDisconnectForcesRoundEnd(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")
	s.RemovePlayer("p1")

	require.Equal(t, 1, rec.count("reveal"), "zero players remaining forces the round to end")
	require.Empty(t, revealOf(t, mustLast(t, rec, "reveal")).Leaderboard)
}

func TestHostCancelMidRound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, s, rec := newTestSession(t, 3, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")
	s.Cancel("Host disconnected.")

	require.Equal(t, 1, rec.count("game_cancelled"))
	require.Zero(t, reg.Len())

	// The dangling round timer must have been cancelled with the session.
	clock.Advance(time.Minute)
	require.Zero(t, rec.count("reveal"))
}

func TestAdvanceDuringActiveRoundIsSuppressed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 3, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")
	require.Equal(t, 1, rec.count("question"))

	s.Advance("host")
	require.Equal(t, 1, rec.count("question"), "advance mid-round would double-advance")

	s.Advance("stranger")
	require.Equal(t, 1, rec.count("question"))
}

func TestRoundEndIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 1, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")
	s.SubmitAnswer("p1", "q1", "a")
	require.Equal(t, 1, rec.count("reveal"))

	// Simulate the deadline callback losing the race to the last answer.
	s.expire(1)

	require.Equal(t, 1, rec.count("reveal"), "exactly one reveal per round")
	reveal := revealOf(t, mustLast(t, rec, "reveal"))
	require.Equal(t, 1000, reveal.Leaderboard[0].Score, "exactly one score update per player")
}

func TestScoresAccumulateAcrossRounds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, s, rec := newTestSession(t, 2, clock)

	_, err := s.Join("p1", "alice")
	require.NoError(t, err)

	s.Start("host")
	first := mustLast(t, rec, "question").data.(QuestionShown)
	clock.Advance(10 * time.Second)
	s.SubmitAnswer("p1", first.ID, "a") // 10s of 20s left: 750

	s.Advance("host")
	second := mustLast(t, rec, "question").data.(QuestionShown)
	require.NotEqual(t, first.ID, second.ID)
	s.SubmitAnswer("p1", second.ID, "a") // instant: 1000

	s.Advance("host")

	over := mustLast(t, rec, "game_over").data.(GameOver)
	require.Equal(t, []LeaderboardEntry{{Name: "alice", Score: 1750, Correct: true}}, over.Leaderboard)
}
