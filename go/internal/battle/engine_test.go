package battle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/registry"
	"github.com/holyword/trivia/go/internal/scoring"
	"github.com/holyword/trivia/go/internal/session"
)

// fakeSource serves a deterministic question set: option 0 is always the
// correct one.
type fakeSource struct{}

func (fakeSource) QuestionSet(_ context.Context, _, _ string, count int) ([]models.Question, error) {
	qs := make([]models.Question, count)
	for i := range qs {
		qs[i] = models.Question{
			ID:   uuid.New(),
			Text: fmt.Sprintf("question %d", i),
			Options: []models.AnswerOption{
				{ID: uuid.New(), Text: "right", Correct: true},
				{ID: uuid.New(), Text: "wrong a"},
				{ID: uuid.New(), Text: "wrong b"},
			},
		}
	}
	return qs, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (f *fakeNotifier) Dispatch(n *models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) byType(t models.NotificationType) []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type testRig struct {
	engine   *Engine
	store    *session.Store
	clock    *clockwork.FakeClock
	notifier *fakeNotifier
}

func newTestRig(t *testing.T, questionCount int) *testRig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := session.NewStore()
	reg := registry.New(registry.DefaultConfig())
	notifier := &fakeNotifier{}
	clock := clockwork.NewFakeClock()

	cfg := DefaultConfig()
	cfg.QuestionCount = questionCount
	engine := NewEngine(ctx, store, reg, fakeSource{}, scoring.DefaultStandard(), notifier, cfg).WithClock(clock)

	return &testRig{engine: engine, store: store, clock: clock, notifier: notifier}
}

// startBattle builds a 2v1 battle (alice+carol vs bob) and plays it up to
// the first question being live with Team A holding the turn.
func startBattle(t *testing.T, rig *testRig) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	battleID, err := rig.engine.CreateBattle(ctx, "alice", "Alice", "Lions", "history", "easy")
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if err := rig.engine.Invite(battleID, "alice", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := rig.engine.AcceptInvite(battleID, "bob", "Bob", "Tigers"); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	view, err := rig.engine.State(battleID, "alice")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if err := rig.engine.JoinTeam(battleID, view.YourTeamID, "carol", "Carol"); err != nil {
		t.Fatalf("JoinTeam: %v", err)
	}

	if err := rig.engine.Ready(battleID, "alice"); err != nil {
		t.Fatalf("Ready alice: %v", err)
	}
	if err := rig.engine.Ready(battleID, "bob"); err != nil {
		t.Fatalf("Ready bob: %v", err)
	}

	view, err = rig.engine.State(battleID, "alice")
	if err != nil {
		t.Fatalf("State after start: %v", err)
	}
	if view.Status != models.BattleStatusPlaying {
		t.Fatalf("battle status = %s, want playing", view.Status)
	}
	if view.TurnTeamID != view.TeamA.ID {
		t.Fatalf("first turn holder = %s, want Team A %s", view.TurnTeamID, view.TeamA.ID)
	}
	return battleID
}

// waitFor polls until cond holds or the deadline passes. Needed because
// disconnect signals reach the actor asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func correctOption(t *testing.T, q *models.Question) uuid.UUID {
	t.Helper()
	if q == nil {
		t.Fatal("no current question in view")
	}
	id := q.CorrectOptionID()
	if id == uuid.Nil {
		t.Fatal("question has no correct option")
	}
	return id
}

func wrongOption(t *testing.T, q *models.Question) uuid.UUID {
	t.Helper()
	for _, opt := range q.Options {
		if !opt.Correct {
			return opt.ID
		}
	}
	t.Fatal("question has no wrong option")
	return uuid.Nil
}

func TestBattleAlternatesTurnsAndFinishes(t *testing.T) {
	rig := newTestRig(t, 2)
	battleID := startBattle(t, rig)

	// Question 0: Team A's captain finalizes the correct answer.
	view, _ := rig.engine.State(battleID, "alice")
	if err := rig.engine.Finalize(battleID, "alice", view.Question.ID, correctOption(t, view.Question), 5000); err != nil {
		t.Fatalf("Finalize q0: %v", err)
	}

	view, err := rig.engine.State(battleID, "bob")
	if err != nil {
		t.Fatalf("State after q0: %v", err)
	}
	if view.QuestionIndex != 1 {
		t.Fatalf("question index = %d, want 1", view.QuestionIndex)
	}
	if view.TurnTeamID != view.TeamB.ID {
		t.Fatal("turn did not flip to Team B")
	}
	if view.TeamA.Score == 0 {
		t.Fatal("Team A scored nothing for a correct answer")
	}
	if view.Question == nil {
		t.Fatal("turn holder Bob did not receive the question body")
	}

	// Alice is not on the turn team now; she must not see the question.
	aView, _ := rig.engine.State(battleID, "alice")
	if aView.Question != nil {
		t.Fatal("non-turn team can read the question body")
	}

	// Question 1: Team B finalizes a wrong answer, exhausting the set.
	if err := rig.engine.Finalize(battleID, "bob", view.Question.ID, wrongOption(t, view.Question), 1000); err != nil {
		t.Fatalf("Finalize q1: %v", err)
	}

	// The battle is finished and removed from the store.
	waitFor(t, func() bool {
		_, err := rig.engine.State(battleID, "alice")
		return errors.Is(err, ErrBattleNotFound)
	})
}

func TestFinalizeRequiresTurnTeamCaptain(t *testing.T) {
	rig := newTestRig(t, 2)
	battleID := startBattle(t, rig)

	view, _ := rig.engine.State(battleID, "alice")
	answer := correctOption(t, view.Question)

	if err := rig.engine.Finalize(battleID, "carol", view.Question.ID, answer, 0); !errors.Is(err, ErrNotCaptain) {
		t.Fatalf("member finalize error = %v, want ErrNotCaptain", err)
	}
	if err := rig.engine.Finalize(battleID, "bob", view.Question.ID, answer, 0); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("opposing captain finalize error = %v, want ErrNotYourTurn", err)
	}
	if err := rig.engine.Finalize(battleID, "dave", view.Question.ID, answer, 0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("outsider finalize error = %v, want ErrNotMember", err)
	}
}

func TestSuggestionsAreAdvisory(t *testing.T) {
	rig := newTestRig(t, 2)
	battleID := startBattle(t, rig)

	view, _ := rig.engine.State(battleID, "carol")
	answer := wrongOption(t, view.Question)

	if err := rig.engine.OptionSelected(battleID, "carol", view.Question.ID, answer); err != nil {
		t.Fatalf("member suggestion: %v", err)
	}
	if err := rig.engine.OptionSelected(battleID, "alice", view.Question.ID, answer); !errors.Is(err, ErrCaptainSuggestion) {
		t.Fatalf("captain suggestion error = %v, want ErrCaptainSuggestion", err)
	}
	if err := rig.engine.OptionSelected(battleID, "bob", view.Question.ID, answer); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("off-turn suggestion error = %v, want ErrNotYourTurn", err)
	}

	// Suggestions never touch the score.
	view, _ = rig.engine.State(battleID, "alice")
	if view.TeamA.Score != 0 || view.Tally["carol"] != answer {
		t.Fatalf("tally=%v teamA score=%d; want recorded suggestion and zero score", view.Tally, view.TeamA.Score)
	}
}

func TestDeadlineScoresMissAndLateFinalizeIsStale(t *testing.T) {
	rig := newTestRig(t, 3)
	battleID := startBattle(t, rig)

	view, _ := rig.engine.State(battleID, "alice")
	q0 := view.Question.ID
	answer := correctOption(t, view.Question)

	rig.clock.Advance(31 * time.Second)

	waitFor(t, func() bool {
		v, err := rig.engine.State(battleID, "alice")
		return err == nil && v.QuestionIndex == 1
	})

	view, _ = rig.engine.State(battleID, "alice")
	if view.TeamA.Score != 0 {
		t.Fatalf("Team A score after timeout = %d, want 0", view.TeamA.Score)
	}
	if view.TurnTeamID != view.TeamB.ID {
		t.Fatal("turn did not flip to Team B after timeout")
	}

	// The finalize that lost the race names a resolved question.
	if err := rig.engine.Finalize(battleID, "alice", q0, answer, 29000); !errors.Is(err, ErrQuestionAlreadyLocked) {
		t.Fatalf("stale finalize error = %v, want ErrQuestionAlreadyLocked", err)
	}
}

func TestCaptainPromotionOnDisconnect(t *testing.T) {
	rig := newTestRig(t, 2)
	battleID := startBattle(t, rig)

	h, ok := rig.store.Get(battleID)
	if !ok {
		t.Fatal("battle not in store")
	}
	h.UserOffline("alice")

	waitFor(t, func() bool {
		v, err := rig.engine.State(battleID, "carol")
		return err == nil && v.TeamA.CaptainID == "carol"
	})

	// The new captain may finalize the open question; the deadline was not
	// reset by the promotion.
	view, _ := rig.engine.State(battleID, "carol")
	if view.QuestionIndex != 0 {
		t.Fatalf("promotion advanced the question to %d", view.QuestionIndex)
	}
	if err := rig.engine.Finalize(battleID, "carol", view.Question.ID, correctOption(t, view.Question), 1000); err != nil {
		t.Fatalf("promoted captain finalize: %v", err)
	}

	// Remaining teammates were told about the disconnect.
	waitFor(t, func() bool {
		return len(rig.notifier.byType(models.NotificationTypePlayerDisconnect)) > 0
	})
}

func TestForceEndOnTeamWipeout(t *testing.T) {
	rig := newTestRig(t, 5)
	battleID := startBattle(t, rig)

	h, _ := rig.store.Get(battleID)
	h.UserOffline("alice")
	h.UserOffline("carol")

	// The surviving team wins and the battle terminates; it never resumes.
	waitFor(t, func() bool {
		_, err := rig.engine.State(battleID, "bob")
		return errors.Is(err, ErrBattleNotFound)
	})
}

func TestReconnectDoesNotDisturbPlay(t *testing.T) {
	rig := newTestRig(t, 2)
	battleID := startBattle(t, rig)

	h, _ := rig.store.Get(battleID)
	h.UserOffline("carol")
	h.UserOnline("carol")

	waitFor(t, func() bool {
		v, err := rig.engine.State(battleID, "alice")
		if err != nil {
			return false
		}
		m := v.TeamA.Members
		for _, member := range m {
			if member.UserID == "carol" {
				return member.Connected
			}
		}
		return false
	})

	view, _ := rig.engine.State(battleID, "alice")
	if view.Status != models.BattleStatusPlaying || view.QuestionIndex != 0 {
		t.Fatalf("reconnect disturbed play: status=%s index=%d", view.Status, view.QuestionIndex)
	}
}

func TestInviteRules(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()

	battleID, err := rig.engine.CreateBattle(ctx, "alice", "Alice", "Lions", "history", "easy")
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}

	if err := rig.engine.AcceptInvite(battleID, "mallory", "Mallory", "Crashers"); !errors.Is(err, ErrNotInvited) {
		t.Fatalf("uninvited accept error = %v, want ErrNotInvited", err)
	}
	if err := rig.engine.Invite(battleID, "carol", "bob"); !errors.Is(err, ErrNotCaptain) {
		t.Fatalf("non-captain invite error = %v, want ErrNotCaptain", err)
	}

	if err := rig.engine.Invite(battleID, "alice", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	invites := rig.notifier.byType(models.NotificationTypeBattleInvite)
	if len(invites) != 1 || invites[0].UserID != "bob" {
		t.Fatalf("invite notifications = %v, want one for bob", invites)
	}

	if err := rig.engine.AcceptInvite(battleID, "bob", "Bob", "Tigers"); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if err := rig.engine.AcceptInvite(battleID, "bob", "Bob", "Tigers"); !errors.Is(err, ErrOpponentAlreadySet) {
		t.Fatalf("second accept error = %v, want ErrOpponentAlreadySet", err)
	}
}

func TestTeammateCannotCaptainOpposition(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()

	battleID, err := rig.engine.CreateBattle(ctx, "alice", "Alice", "Lions", "history", "easy")
	if err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}
	if err := rig.engine.Invite(battleID, "alice", "bob"); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	view, err := rig.engine.State(battleID, "alice")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if err := rig.engine.JoinTeam(battleID, view.YourTeamID, "bob", "Bob"); err != nil {
		t.Fatalf("JoinTeam: %v", err)
	}

	// Bob sits on Team A now; accepting his earlier invite would make him
	// captain of both sides.
	if err := rig.engine.AcceptInvite(battleID, "bob", "Bob", "Tigers"); !errors.Is(err, ErrAlreadyOnTeam) {
		t.Fatalf("teammate accept error = %v, want ErrAlreadyOnTeam", err)
	}
	// Inviting someone already rostered is rejected outright.
	if err := rig.engine.Invite(battleID, "alice", "bob"); !errors.Is(err, ErrAlreadyOnTeam) {
		t.Fatalf("invite of rostered member error = %v, want ErrAlreadyOnTeam", err)
	}
}

func TestReadyRequiresCaptain(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()

	battleID, _ := rig.engine.CreateBattle(ctx, "alice", "Alice", "Lions", "history", "easy")
	view, _ := rig.engine.State(battleID, "alice")
	if err := rig.engine.JoinTeam(battleID, view.YourTeamID, "carol", "Carol"); err != nil {
		t.Fatalf("JoinTeam: %v", err)
	}

	if err := rig.engine.Ready(battleID, "carol"); !errors.Is(err, ErrNotCaptain) {
		t.Fatalf("member ready error = %v, want ErrNotCaptain", err)
	}
}
