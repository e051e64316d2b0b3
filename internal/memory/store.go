package memory

import "sync"

// Store holds one [Conversation] per user, created on first use.
// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	convs      map[string]*Conversation
	maxTurns   int
	summariser Summariser
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithSummariser sets the summariser used when conversations compress.
// Without one, compression falls back to a deterministic digest.
func WithSummariser(s Summariser) StoreOption {
	return func(st *Store) { st.summariser = s }
}

// NewStore returns an empty Store whose conversations compress beyond
// 2*maxTurns turns.
func NewStore(maxTurns int, opts ...StoreOption) *Store {
	s := &Store{
		convs:    make(map[string]*Conversation),
		maxTurns: maxTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the conversation for userID, creating it if absent.
func (s *Store) Get(userID string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[userID]
	if !ok {
		conv = NewConversation(s.maxTurns, s.summariser)
		s.convs[userID] = conv
	}
	return conv
}

// Clear drops the conversation for userID, if any.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, userID)
}

// Users returns the IDs that currently have a conversation.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	return ids
}
