package session

import (
	"testing"

	"github.com/google/uuid"

	"github.com/holyword/trivia/go/internal/models"
)

type fakeHandle struct {
	id      uuid.UUID
	offline []string
	online  []string
}

func (f *fakeHandle) SessionID() uuid.UUID      { return f.id }
func (f *fakeHandle) Kind() models.SessionKind  { return models.SessionKindRealtime }
func (f *fakeHandle) UserOffline(userID string) { f.offline = append(f.offline, userID) }
func (f *fakeHandle) UserOnline(userID string)  { f.online = append(f.online, userID) }

func TestStoreRegisterAndGet(t *testing.T) {
	s := NewStore()
	h := &fakeHandle{id: uuid.New()}

	s.Register(h)
	if got, ok := s.Get(h.id); !ok || got != h {
		t.Fatalf("Get returned %v, %v; want registered handle", got, ok)
	}
	if s.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.Count())
	}

	s.Remove(h.id)
	if _, ok := s.Get(h.id); ok {
		t.Fatal("Get found a removed session")
	}
}

func TestStoreOfflineFanOut(t *testing.T) {
	s := NewStore()
	a := &fakeHandle{id: uuid.New()}
	b := &fakeHandle{id: uuid.New()}
	other := &fakeHandle{id: uuid.New()}
	s.Register(a)
	s.Register(b)
	s.Register(other)

	s.Bind("u1", a.id)
	s.Bind("u1", b.id)
	s.Bind("u2", other.id)

	s.NotifyUserOffline("u1")
	if len(a.offline) != 1 || len(b.offline) != 1 {
		t.Fatalf("offline signal not fanned out: a=%v b=%v", a.offline, b.offline)
	}
	if len(other.offline) != 0 {
		t.Fatalf("offline signal leaked to unrelated session: %v", other.offline)
	}

	s.NotifyUserOnline("u1")
	if len(a.online) != 1 || len(b.online) != 1 {
		t.Fatalf("online signal not fanned out: a=%v b=%v", a.online, b.online)
	}
}

func TestStoreUnbindStopsFanOut(t *testing.T) {
	s := NewStore()
	h := &fakeHandle{id: uuid.New()}
	s.Register(h)
	s.Bind("u1", h.id)
	s.Unbind("u1", h.id)

	s.NotifyUserOffline("u1")
	if len(h.offline) != 0 {
		t.Fatalf("unbound session still received offline signal: %v", h.offline)
	}
}

func TestStoreRemoveDropsBindings(t *testing.T) {
	s := NewStore()
	h := &fakeHandle{id: uuid.New()}
	s.Register(h)
	s.Bind("u1", h.id)
	s.Remove(h.id)

	if handles := s.ForUser("u1"); len(handles) != 0 {
		t.Fatalf("ForUser after Remove = %v, want empty", handles)
	}
}
