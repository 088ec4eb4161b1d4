package challenge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/holyword/trivia/go/internal/models"
	"github.com/holyword/trivia/go/internal/registry"
	"github.com/holyword/trivia/go/internal/scoring"
)

// memoryRepository keeps everything in maps; it is only deep enough for the
// coordinator's access patterns.
type memoryRepository struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]models.Challenge
	questions  map[uuid.UUID][]models.Question
	results    map[uuid.UUID]map[string]models.ChallengeResult
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		challenges: make(map[uuid.UUID]models.Challenge),
		questions:  make(map[uuid.UUID][]models.Question),
		results:    make(map[uuid.UUID]map[string]models.ChallengeResult),
	}
}

func (r *memoryRepository) Create(_ context.Context, ch *models.Challenge, qs []models.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[ch.ID] = *ch
	r.questions[ch.ID] = qs
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id uuid.UUID) (*models.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &ch, nil
}

func (r *memoryRepository) Update(_ context.Context, ch *models.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.challenges[ch.ID]; !ok {
		return ErrChallengeNotFound
	}
	r.challenges[ch.ID] = *ch
	return nil
}

func (r *memoryRepository) Questions(_ context.Context, challengeID uuid.UUID) ([]models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.questions[challengeID], nil
}

func (r *memoryRepository) GetResult(_ context.Context, challengeID uuid.UUID, userID string) (*models.ChallengeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[challengeID][userID]
	if !ok {
		return nil, ErrResultNotFound
	}
	return &res, nil
}

func (r *memoryRepository) SaveResult(_ context.Context, result *models.ChallengeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results[result.ChallengeID] == nil {
		r.results[result.ChallengeID] = make(map[string]models.ChallengeResult)
	}
	r.results[result.ChallengeID][result.UserID] = *result
	return nil
}

func (r *memoryRepository) ListForUser(_ context.Context, userID string) ([]models.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Challenge
	for _, ch := range r.challenges {
		if ch.ChallengerID == userID || ch.ChallengeeID == userID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ch := range r.challenges {
		switch ch.Status {
		case models.ChallengeStatusPending, models.ChallengeStatusAccepted:
			if now.After(ch.ExpiresAt) {
				ch.Status = models.ChallengeStatusExpired
				r.challenges[id] = ch
				n++
			}
		}
	}
	return n, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	dispL []models.Notification
}

func (n *recordingNotifier) Dispatch(notif *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispL = append(n.dispL, *notif)
}

func (n *recordingNotifier) byType(t models.NotificationType) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Notification
	for _, notif := range n.dispL {
		if notif.Type == t {
			out = append(out, notif)
		}
	}
	return out
}

type challengeSource struct{}

func (challengeSource) QuestionSet(_ context.Context, _, _ string, count int) ([]models.Question, error) {
	qs := make([]models.Question, count)
	for i := range qs {
		qs[i] = models.Question{
			ID:   uuid.New(),
			Text: fmt.Sprintf("question %d", i),
			Options: []models.AnswerOption{
				{ID: uuid.New(), Text: "right", Correct: true},
				{ID: uuid.New(), Text: "wrong"},
			},
		}
	}
	return qs, nil
}

type duelRig struct {
	coord    *Coordinator
	repo     *memoryRepository
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
}

func newDuelRig(t *testing.T) *duelRig {
	t.Helper()
	cfg := DefaultConfig()
	cfg.QuestionCount = 2
	notifier := &recordingNotifier{}
	repo := newMemoryRepository()
	clock := clockwork.NewFakeClock()
	coord := NewCoordinator(repo, registry.New(registry.DefaultConfig()),
		challengeSource{}, scoring.DefaultStandard(), notifier, cfg).WithClock(clock)
	return &duelRig{coord: coord, repo: repo, clock: clock, notifier: notifier}
}

func TestCreateChallenge(t *testing.T) {
	rig := newDuelRig(t)
	ctx := context.Background()

	ch, err := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if ch.Status != models.ChallengeStatusPending {
		t.Fatalf("status = %s, want pending", ch.Status)
	}
	if want := rig.clock.Now().UTC().Add(24 * time.Hour); !ch.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", ch.ExpiresAt, want)
	}
	qs, err := rig.coord.Questions(ctx, ch.ID, "bob")
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("question set size = %d, want 2", len(qs))
	}

	received := rig.notifier.byType(models.NotificationTypeChallengeReceived)
	if len(received) != 1 || received[0].UserID != "bob" {
		t.Fatalf("challenge-received notifications = %+v", received)
	}

	if _, err := rig.coord.CreateChallenge(ctx, "alice", "alice", "geography", "easy"); !errors.Is(err, ErrSelfChallenge) {
		t.Fatalf("self challenge error = %v, want ErrSelfChallenge", err)
	}
}

func TestAcceptDeclineRules(t *testing.T) {
	rig := newDuelRig(t)
	ctx := context.Background()

	ch, err := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	if _, err := rig.coord.Accept(ctx, ch.ID, "alice"); !errors.Is(err, ErrNotChallengee) {
		t.Fatalf("challenger accept error = %v, want ErrNotChallengee", err)
	}
	if _, err := rig.coord.Decline(ctx, ch.ID, "bob"); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if _, err := rig.coord.Accept(ctx, ch.ID, "bob"); !errors.Is(err, ErrInvalidChallengeState) {
		t.Fatalf("accept after decline error = %v, want ErrInvalidChallengeState", err)
	}
	if _, err := rig.coord.Accept(ctx, uuid.New(), "bob"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("missing challenge error = %v, want ErrChallengeNotFound", err)
	}
}

// playThrough has userID answer every question, optionally correctly, then
// complete their side.
func playThrough(t *testing.T, rig *duelRig, challengeID uuid.UUID, userID string, correct bool) *models.Challenge {
	t.Helper()
	ctx := context.Background()
	qs, err := rig.coord.Questions(ctx, challengeID, userID)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	for _, q := range qs {
		answerID := q.CorrectOptionID()
		if !correct {
			for _, opt := range q.Options {
				if opt.ID != answerID {
					answerID = opt.ID
					break
				}
			}
		}
		if err := rig.coord.SubmitAnswer(ctx, challengeID, userID, q.ID, answerID, correct, 5000); err != nil {
			t.Fatalf("SubmitAnswer %s: %v", userID, err)
		}
	}
	ch, err := rig.coord.Complete(ctx, challengeID, userID)
	if err != nil {
		t.Fatalf("Complete %s: %v", userID, err)
	}
	return ch
}

func TestDuelResolvesWithWinner(t *testing.T) {
	rig := newDuelRig(t)
	ctx := context.Background()

	ch, err := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := rig.coord.Accept(ctx, ch.ID, "bob"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	playThrough(t, rig, ch.ID, "alice", true)
	final := playThrough(t, rig, ch.ID, "bob", false)

	if final.Status != models.ChallengeStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.WinnerID == nil || *final.WinnerID != "alice" {
		t.Fatalf("winner = %v, want alice", final.WinnerID)
	}
	if final.IsDraw {
		t.Fatal("decided duel marked as a draw")
	}

	results := rig.notifier.byType(models.NotificationTypeChallengeResult)
	if len(results) != 2 {
		t.Fatalf("result notifications = %d, want one per participant", len(results))
	}

	// Completing again is a no-op and must not notify a second time.
	if _, err := rig.coord.Complete(ctx, ch.ID, "bob"); err != nil {
		t.Fatalf("repeat Complete: %v", err)
	}
	if n := len(rig.notifier.byType(models.NotificationTypeChallengeResult)); n != 2 {
		t.Fatalf("result notifications after repeat = %d, want 2", n)
	}
}

func TestDuelDraw(t *testing.T) {
	rig := newDuelRig(t)
	ctx := context.Background()

	ch, _ := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")
	if _, err := rig.coord.Accept(ctx, ch.ID, "bob"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Neither side answers; both complete with zero scores.
	if _, err := rig.coord.Complete(ctx, ch.ID, "alice"); err != nil {
		t.Fatalf("Complete alice: %v", err)
	}
	final, err := rig.coord.Complete(ctx, ch.ID, "bob")
	if err != nil {
		t.Fatalf("Complete bob: %v", err)
	}
	if !final.IsDraw || final.WinnerID != nil {
		t.Fatalf("draw = %v winner = %v, want draw with no winner", final.IsDraw, final.WinnerID)
	}
}

func TestSubmitAnswerRules(t *testing.T) {
	rig := newDuelRig(t)
	ctx := context.Background()

	ch, _ := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")
	qs, _ := rig.coord.Questions(ctx, ch.ID, "alice")
	q := qs[0]

	// Answers require an accepted challenge.
	if err := rig.coord.SubmitAnswer(ctx, ch.ID, "alice", q.ID, q.CorrectOptionID(), true, 100); !errors.Is(err, ErrInvalidChallengeState) {
		t.Fatalf("pending submit error = %v, want ErrInvalidChallengeState", err)
	}
	if _, err := rig.coord.Accept(ctx, ch.ID, "bob"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if err := rig.coord.SubmitAnswer(ctx, ch.ID, "mallory", q.ID, q.CorrectOptionID(), true, 100); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider submit error = %v, want ErrNotParticipant", err)
	}
	if err := rig.coord.SubmitAnswer(ctx, ch.ID, "alice", uuid.New(), q.CorrectOptionID(), true, 100); !errors.Is(err, ErrQuestionMismatch) {
		t.Fatalf("foreign question error = %v, want ErrQuestionMismatch", err)
	}

	if err := rig.coord.SubmitAnswer(ctx, ch.ID, "alice", q.ID, q.CorrectOptionID(), true, 100); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if err := rig.coord.SubmitAnswer(ctx, ch.ID, "alice", q.ID, q.CorrectOptionID(), true, 100); !errors.Is(err, ErrInvalidChallengeState) {
		t.Fatalf("repeat answer error = %v, want ErrInvalidChallengeState", err)
	}

	// Correctness is recomputed server-side: a wrong answer flagged correct
	// by the client still scores zero.
	q2 := qs[1]
	var wrong uuid.UUID
	for _, opt := range q2.Options {
		if opt.ID != q2.CorrectOptionID() {
			wrong = opt.ID
		}
	}
	if err := rig.coord.SubmitAnswer(ctx, ch.ID, "bob", q2.ID, wrong, true, 100); err != nil {
		t.Fatalf("SubmitAnswer bob: %v", err)
	}
	res, err := rig.repo.GetResult(ctx, ch.ID, "bob")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Score != 0 || res.Correct != 0 || res.Answers[0].IsCorrect {
		t.Fatalf("client-claimed correctness was trusted: %+v", res)
	}
}

func TestExpiry(t *testing.T) {
	rig := newDuelRig(t)
	ctx := context.Background()

	ch, _ := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")
	rig.clock.Advance(24*time.Hour + time.Second)

	// Lazy expiry: the first touch past the deadline flips the status.
	if _, err := rig.coord.Accept(ctx, ch.ID, "bob"); !errors.Is(err, ErrInvalidChallengeState) {
		t.Fatalf("accept after expiry error = %v, want ErrInvalidChallengeState", err)
	}
	got, err := rig.coord.Get(ctx, ch.ID, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.ChallengeStatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if got.WinnerID != nil || got.IsDraw {
		t.Fatal("expired challenge resolved a result")
	}
}

func TestExpirySweep(t *testing.T) {
	rig := newDuelRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := rig.coord.CreateChallenge(ctx, "alice", "bob", "geography", "easy")

	done := make(chan error, 1)
	go func() { done <- rig.coord.RunExpirySweep(ctx) }()
	rig.clock.BlockUntil(1)

	rig.clock.Advance(25 * time.Hour)
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := rig.repo.Get(ctx, ch.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == models.ChallengeStatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep never expired the challenge, status = %s", got.Status)
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("sweep returned %v, want context.Canceled", err)
	}
}
