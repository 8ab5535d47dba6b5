package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chathist/internal/kvstore"
)

const (
	DefaultKey              = "chat-history"
	DefaultPlaceholderTitle = "新对话"
	DefaultTitleLength      = 10
)

// maxIDAttempts bounds regeneration when a generated id is already taken.
const maxIDAttempts = 8

type SessionStore struct {
	backend kvstore.Store

	key         string
	placeholder string
	titleLen    int
	now         func() time.Time
	newID       func(time.Time) string
	log         zerolog.Logger

	mu       sync.Mutex
	sessions []ChatSession
	activeID string

	// persistMu serializes encode+write so the last write always carries
	// the newest state.
	persistMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

type Option func(*SessionStore)

func WithKey(key string) Option {
	return func(s *SessionStore) { s.key = key }
}

func WithPlaceholderTitle(title string) Option {
	return func(s *SessionStore) { s.placeholder = title }
}

func WithTitleLength(n int) Option {
	return func(s *SessionStore) { s.titleLen = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *SessionStore) { s.now = now }
}

func WithIDGenerator(gen func(time.Time) string) Option {
	return func(s *SessionStore) { s.newID = gen }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *SessionStore) { s.log = l }
}

func NewSessionStore(backend kvstore.Store, opts ...Option) *SessionStore {
	s := &SessionStore{
		backend:     backend,
		key:         DefaultKey,
		placeholder: DefaultPlaceholderTitle,
		titleLen:    DefaultTitleLength,
		now:         time.Now,
		newID:       NewSessionID,
		log:         zerolog.Nop(),
		sessions:    []ChatSession{},
		subs:        map[int]func(Snapshot){},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.titleLen <= 0 {
		s.titleLen = DefaultTitleLength
	}
	s.log = s.log.With().Str("component", "chat").Str("key", s.key).Logger()
	return s
}

// Load replaces the in-memory list with the persisted one. A missing,
// unreadable or malformed blob leaves memory as it is; nothing is returned
// to the caller in that case, the failure is only logged.
func (s *SessionStore) Load(ctx context.Context) {
	b, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read session history")
		return
	}
	if !ok {
		s.log.Debug().Msg("No persisted session history")
		return
	}
	sessions, err := decodeSessions(b)
	if err != nil {
		s.log.Warn().Err(err).Int("bytes", len(b)).Msg("Ignoring malformed session history")
		return
	}

	s.mu.Lock()
	s.sessions = sessions
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info().Int("sessions", len(sessions)).Msg("Session history loaded")
	s.notify(snap)
}

// Save writes the full list to the backend. On failure the in-memory list
// is untouched and the error is returned.
func (s *SessionStore) Save(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	b, err := encodeSessions(s.sessions)
	n := len(s.sessions)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	if err := s.backend.Set(ctx, s.key, b); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist session history")
		return fmt.Errorf("persist sessions: %w", err)
	}
	s.log.Debug().Int("sessions", n).Int("bytes", len(b)).Msg("Session history saved")
	return nil
}

// CreateNewChat puts a fresh placeholder-titled session at the front and
// makes it active. Any other placeholder-titled session is dropped so that
// repeated "new chat" requests don't pile up empty entries.
//
// The returned error only reports a failed write; the new session exists
// in memory either way.
func (s *SessionStore) CreateNewChat(ctx context.Context) (ChatSession, error) {
	s.mu.Lock()
	now := s.now()
	session := ChatSession{
		ID:        s.uniqueIDLocked(now),
		Title:     s.placeholder,
		Messages:  []Message{},
		Timestamp: now.UnixMilli(),
	}
	s.sessions = append([]ChatSession{session}, s.sessions...)
	s.activeID = session.ID

	kept := make([]ChatSession, 0, len(s.sessions))
	seenPlaceholder := false
	dropped := 0
	for _, cs := range s.sessions {
		if cs.Title == s.placeholder {
			if seenPlaceholder {
				dropped++
				continue
			}
			seenPlaceholder = true
		}
		kept = append(kept, cs)
	}
	s.sessions = kept
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug().Str("session_id", session.ID).Int("dropped_placeholders", dropped).Msg("Chat created")
	s.notify(snap)
	return session.clone(), s.Save(ctx)
}

// AddMessage appends a message to the active session. Without an active
// session it does nothing. The first user message names the session.
func (s *SessionStore) AddMessage(ctx context.Context, content string, role Role) error {
	s.mu.Lock()
	idx := s.indexLocked(s.activeID)
	if idx < 0 {
		activeID := s.activeID
		s.mu.Unlock()
		s.log.Debug().Str("active_id", activeID).Msg("AddMessage without an active session; ignored")
		return nil
	}

	cs := &s.sessions[idx]
	cs.Messages = append(cs.Messages, Message{Role: role, Content: content})
	if len(cs.Messages) == 1 && role == RoleUser {
		cs.Title = deriveTitle(content, s.titleLen)
	}
	cs.Timestamp = s.nextActivityLocked(idx)
	sessionID := cs.ID

	sort.SliceStable(s.sessions, func(i, j int) bool {
		return s.sessions[i].Timestamp > s.sessions[j].Timestamp
	})
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug().Str("session_id", sessionID).Str("role", string(role)).Msg("Message added")
	s.notify(snap)
	return s.Save(ctx)
}

// SelectChat marks id as active. The id is not checked against the list.
func (s *SessionStore) SelectChat(id string) {
	s.mu.Lock()
	if s.activeID == id {
		s.mu.Unlock()
		return
	}
	s.activeID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// DeleteChat removes the session with the given id, if any. Deleting the
// active session moves the selection to the new front entry.
func (s *SessionStore) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	if id == s.activeID {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug().Str("session_id", id).Str("active_id", snap.ActiveID).Msg("Chat deleted")
	s.notify(snap)
	return s.Save(ctx)
}

// Sessions returns a copy of the list in display order.
func (s *SessionStore) Sessions() []ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions)
}

func (s *SessionStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns the active session, if the active id matches one.
func (s *SessionStore) Active() (ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(s.activeID)
	if idx < 0 {
		return ChatSession{}, false
	}
	return s.sessions[idx].clone(), true
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called after every change to the list or the
// active id. fn runs on the goroutine that made the change and must not call
// back into the store's mutating methods.
func (s *SessionStore) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *SessionStore) notify(snap Snapshot) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *SessionStore) snapshotLocked() Snapshot {
	return Snapshot{Sessions: cloneSessions(s.sessions), ActiveID: s.activeID}
}

func (s *SessionStore) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *SessionStore) uniqueIDLocked(now time.Time) string {
	id := s.newID(now)
	for attempt := 1; attempt < maxIDAttempts && s.indexLocked(id) >= 0; attempt++ {
		id = s.newID(now)
	}
	// A generator that keeps colliding (e.g. plain millis in a tight loop)
	// gets a counter appended.
	base := id
	for n := 1; s.indexLocked(id) >= 0; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

// nextActivityLocked returns the new last-activity time for the session at
// idx: the current time, but never earlier than its previous timestamp.
func (s *SessionStore) nextActivityLocked(idx int) int64 {
	ts := s.now().UnixMilli()
	if own := s.sessions[idx].Timestamp; own > ts {
		ts = own
	}
	return ts
}

func cloneSessions(in []ChatSession) []ChatSession {
	out := make([]ChatSession, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
