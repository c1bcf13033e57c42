// Package testutil provides in-memory stand-ins for PostgreSQL and Redis so
// services and handlers can be exercised without infrastructure.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/repository"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// SessionStore mirrors AttemptSessionRepository semantics in memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.AttemptSession
	versions map[uuid.UUID]int64
	// Err, when set, is returned by every call.
	Err error
	// BulkErr, when set, fails SetScores only.
	BulkErr error
	// FailSaves makes the next n SaveAnswers calls fail with ErrUnavailable.
	FailSaves int
}

// ErrUnavailable is the transient failure injected by FailSaves.
var ErrUnavailable = errors.New("store unavailable")

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*model.AttemptSession),
		versions: make(map[uuid.UUID]int64),
	}
}

func clone(s *model.AttemptSession) *model.AttemptSession {
	c := *s
	c.Answers = model.CloneAnswers(s.Answers)
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		c.SubmittedAt = &t
	}
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	return &c
}

func (f *SessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(s), nil
}

func (f *SessionStore) FindActive(_ context.Context, activityID uuid.UUID, takerID int) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, s := range f.sessions {
		if s.ActivityID == activityID && s.TakerID == takerID && s.State == model.AttemptStateInProgress {
			return clone(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *SessionStore) FindTerminal(_ context.Context, activityID uuid.UUID, takerID int) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var found *model.AttemptSession
	for _, s := range f.sessions {
		if s.ActivityID != activityID || s.TakerID != takerID || !s.State.IsTerminal() {
			continue
		}
		if found == nil || s.State == model.AttemptStateSubmitted {
			found = s
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return clone(found), nil
}

func (f *SessionStore) Create(_ context.Context, s *model.AttemptSession) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, existing := range f.sessions {
		if existing.ActivityID == s.ActivityID && existing.TakerID == s.TakerID {
			return nil, repository.ErrDuplicate
		}
	}
	stored := clone(s)
	stored.State = model.AttemptStateInProgress
	f.sessions[stored.ID] = stored
	return clone(stored), nil
}

func (f *SessionStore) Finalize(_ context.Context, id uuid.UUID, answers []model.Answer, submittedAt *time.Time, state model.AttemptState) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.sessions[id]
	if !ok || s.State != model.AttemptStateInProgress {
		return nil, repository.ErrStateConflict
	}
	s.State = state
	s.Answers = model.CloneAnswers(answers)
	if submittedAt != nil {
		t := *submittedAt
		s.SubmittedAt = &t
	}
	return clone(s), nil
}

func (f *SessionStore) SaveAnswers(_ context.Context, id uuid.UUID, answers []model.Answer, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.FailSaves > 0 {
		f.FailSaves--
		return ErrUnavailable
	}
	s, ok := f.sessions[id]
	if !ok || s.State != model.AttemptStateInProgress || version <= f.versions[id] {
		return repository.ErrStateConflict
	}
	s.Answers = model.CloneAnswers(answers)
	f.versions[id] = version
	return nil
}

func (f *SessionStore) ListByActivity(_ context.Context, activityID uuid.UUID, page, perPage int) ([]model.AttemptSummary, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.AttemptSummary
	for _, s := range f.sessions {
		if s.ActivityID != activityID {
			continue
		}
		all = append(all, model.AttemptSummary{
			SessionID: s.ID, TakerID: s.TakerID, State: s.State,
			StartedAt: s.StartedAt, Deadline: s.Deadline,
			SubmittedAt: s.SubmittedAt, Score: s.Score,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TakerID < all[j].TakerID })
	total := int64(len(all))
	if perPage > 0 {
		start := (page - 1) * perPage
		if start > len(all) {
			start = len(all)
		}
		end := start + perPage
		if end > len(all) {
			end = len(all)
		}
		all = all[start:end]
	}
	return all, total, nil
}

func (f *SessionStore) CountByState(_ context.Context, activityID uuid.UUID) (map[model.AttemptState]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.AttemptState]int)
	for _, s := range f.sessions {
		if s.ActivityID == activityID {
			counts[s.State]++
		}
	}
	return counts, nil
}

// Count returns how many sessions are stored.
func (f *SessionStore) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Stored returns a copy of the stored session.
func (f *SessionStore) Stored(id uuid.UUID) *model.AttemptSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return clone(s)
	}
	return nil
}

// ActivityStore keeps activities in memory.
type ActivityStore struct {
	mu         sync.Mutex
	activities map[uuid.UUID]*model.Activity
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{activities: make(map[uuid.UUID]*model.Activity)}
}

// Add stores a copy of a and returns its id, generating one when empty.
func (f *ActivityStore) Add(a model.Activity) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.activities[a.ID] = &a
	return a.ID
}

func (f *ActivityStore) GetByID(_ context.Context, id uuid.UUID) (*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	c.Questions = nil
	return &c, nil
}

func (f *ActivityStore) GetWithQuestions(_ context.Context, id uuid.UUID) (*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	c.Questions = append([]model.Question(nil), a.Questions...)
	return &c, nil
}

func (f *ActivityStore) Create(_ context.Context, a *model.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	c := *a
	f.activities[a.ID] = &c
	return nil
}

func (f *ActivityStore) UpdateDetails(_ context.Context, id uuid.UUID, title *string, timeLimitSeconds *int) (*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if title != nil {
		a.Title = *title
	}
	if timeLimitSeconds != nil {
		a.TimeLimitSeconds = *timeLimitSeconds
	}
	c := *a
	return &c, nil
}

// Cache is an in-memory SessionCache, JobQueue and EventPublisher.
type Cache struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.AttemptSession
	drafts   map[uuid.UUID]draftEntry
	versions map[uuid.UUID]int64
	Jobs     map[string][]any
	Events   []model.AttemptEvent
	// Now, when set, makes drafts expire after their TTL like Redis keys.
	Now func() time.Time
}

type draftEntry struct {
	answers   []model.Answer
	expiresAt time.Time
}

func NewCache() *Cache {
	return &Cache{
		sessions: make(map[uuid.UUID]*model.AttemptSession),
		drafts:   make(map[uuid.UUID]draftEntry),
		versions: make(map[uuid.UUID]int64),
		Jobs:     make(map[string][]any),
	}
}

func (c *Cache) GetSession(_ context.Context, id uuid.UUID) (*model.AttemptSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok {
		return clone(s), nil
	}
	return nil, nil
}

func (c *Cache) SetSession(_ context.Context, s *model.AttemptSession, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID] = clone(s)
	return nil
}

func (c *Cache) Evict(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	delete(c.drafts, id)
	delete(c.versions, id)
	return nil
}

func (c *Cache) SaveDraft(_ context.Context, id uuid.UUID, answers []model.Answer, at time.Time, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := at.UnixMicro()
	if prev := c.versions[id]; v <= prev {
		v = prev + 1
	}
	c.versions[id] = v
	c.drafts[id] = draftEntry{answers: model.CloneAnswers(answers), expiresAt: at.Add(ttl)}
	return v, nil
}

func (c *Cache) Draft(_ context.Context, id uuid.UUID) ([]model.Answer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[id]
	if !ok {
		return nil, nil
	}
	if c.Now != nil && !c.Now().Before(d.expiresAt) {
		delete(c.drafts, id)
		return nil, nil
	}
	return model.CloneAnswers(d.answers), nil
}

func (c *Cache) Enqueue(_ context.Context, queue string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Jobs[queue] = append(c.Jobs[queue], payload)
	return nil
}

func (c *Cache) Publish(_ context.Context, _ uuid.UUID, ev model.AttemptEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, ev)
	return nil
}

// JobCount returns the number of jobs pushed onto queue.
func (c *Cache) JobCount(queue string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Jobs[queue])
}

// EventTypes returns the published event types in order.
func (c *Cache) EventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Events))
	for i, ev := range c.Events {
		out[i] = ev.Type
	}
	return out
}
