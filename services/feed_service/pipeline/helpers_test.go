package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	eventrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/eventRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
)

// memStore is an in-memory EventStore keyed by event id.
type memStore struct {
	mu     sync.Mutex
	events map[string]models.Event
	puts   int
	err    error
}

func newMemStore(events ...models.Event) *memStore {
	s := &memStore{events: map[string]models.Event{}}
	for _, ev := range events {
		s.events[ev.Id] = ev
	}
	return s
}

func (s *memStore) Put(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.err != nil {
		return s.err
	}
	if _, ok := s.events[ev.Id]; !ok {
		s.events[ev.Id] = *ev
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &ev, nil
}

func (s *memStore) sorted(order eventrepo.Order, keep func(models.Event) bool) []models.Event {
	var out []models.Event
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if order == eventrepo.Asc {
			return out[i].Created < out[j].Created
		}
		return out[i].Created > out[j].Created
	})
	return out
}

func page(events []models.Event, limit, offset int) []models.Event {
	if offset >= len(events) {
		return []models.Event{}
	}
	return events[offset:min(offset+limit, len(events))]
}

func (s *memStore) ListByAuthors(_ context.Context, ids []int64, order eventrepo.Order, limit, offset int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[int64]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return page(s.sorted(order, func(ev models.Event) bool { return set[ev.AuthorId] }), limit, offset), nil
}

func (s *memStore) ListSince(_ context.Context, since float64, order eventrepo.Order, limit, offset int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.sorted(order, func(ev models.Event) bool { return ev.Created > since }), limit, offset), nil
}

func (s *memStore) Close() {}

// topic records published events as their wire form.
type topic struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (t *topic) Publish(_ context.Context, ev *models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	t.msgs = append(t.msgs, data)
	return nil
}

func (t *topic) events() []models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Event, 0, len(t.msgs))
	for _, m := range t.msgs {
		var ev models.Event
		if err := json.Unmarshal(m, &ev); err != nil {
			panic(err)
		}
		out = append(out, ev)
	}
	return out
}

type stubLookup struct {
	users   map[int64]models.UserSummary
	hobbies map[int64]models.HobbySummary
	calls   int
}

func (l *stubLookup) GetUserSummary(_ context.Context, id int64) (models.UserSummary, error) {
	l.calls++
	s, ok := l.users[id]
	if !ok {
		return models.UserSummary{}, models.ErrNotFound
	}
	return s, nil
}

func (l *stubLookup) GetHobbySummary(_ context.Context, id int64) (models.HobbySummary, error) {
	l.calls++
	h, ok := l.hobbies[id]
	if !ok {
		return models.HobbySummary{}, models.ErrNotFound
	}
	return h, nil
}

type stubGraph struct {
	followers map[int64][]int64
}

func (g *stubGraph) FollowerIds(_ context.Context, id int64) ([]int64, error) {
	return g.followers[id], nil
}

func (g *stubGraph) FollowingIds(_ context.Context, id int64) ([]int64, error) {
	return g.followers[id], nil
}

type livePush struct {
	userId  int64
	payload []byte
}

type stubLive struct {
	mu     sync.Mutex
	pushes []livePush
	err    error
}

func (l *stubLive) Publish(_ context.Context, userId int64, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.pushes = append(l.pushes, livePush{userId, payload})
	return nil
}
