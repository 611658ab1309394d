// Package session holds the per-message state threaded through a single
// Content Filter pipeline run.
package session

import (
	"sync"
)

// MessageSession is per-message state: spool file path, envelope, MIME
// handle, score, spam details, flags, virus label. One instance exists
// per pipeline run; it is owned by the engine and passed by reference to
// each module's Handle. Modules must not retain the pointer past the
// call that received it.
type MessageSession struct {
	mu sync.Mutex

	id      string
	queueID string
	prevID  string
	nextID  string

	file     string
	fileSize int64

	from string
	to   []string

	mime *MIME

	spamScore   int64
	spamDetails []string
	virus       *string

	flags map[string]struct{}

	cache CacheBackref
}

// CacheBackref is a non-owning handle back to the QueueCache entry this
// session was loaded from or will be persisted to. It is satisfied by
// *queuecache.QueueCache; declared here to avoid an import cycle.
type CacheBackref interface {
	Touch(queueID string) error
}

// New creates a session for a freshly spooled message. id is derived
// from the spool path (e.g. the basename of mail-XXXXXX).
func New(id, file string, fileSize int64, from string, to []string) *MessageSession {
	return &MessageSession{
		id:       id,
		file:     file,
		fileSize: fileSize,
		from:     from,
		to:       append([]string(nil), to...),
		flags:    make(map[string]struct{}),
		mime:     newMIME(),
	}
}

func (s *MessageSession) ID() string { return s.id }

// QueueID returns the MTA queue-id. Empty string means it has not been
// set yet.
func (s *MessageSession) QueueID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueID
}

// SetQueueID sets the queue-id exactly once. Per spec.md §3, queue_id
// once set is immutable; subsequent calls with a different value are
// ignored and report false.
func (s *MessageSession) SetQueueID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueID != "" {
		return s.queueID == id
	}
	s.queueID = id
	return true
}

func (s *MessageSession) PrevID() string { s.mu.Lock(); defer s.mu.Unlock(); return s.prevID }
func (s *MessageSession) NextID() string { s.mu.Lock(); defer s.mu.Unlock(); return s.nextID }

func (s *MessageSession) SetPrevID(id string) { s.mu.Lock(); defer s.mu.Unlock(); s.prevID = id }
func (s *MessageSession) SetNextID(id string) { s.mu.Lock(); defer s.mu.Unlock(); s.nextID = id }

func (s *MessageSession) File() string      { return s.file }
func (s *MessageSession) FileSize() int64   { return s.fileSize }
func (s *MessageSession) From() string      { return s.from }
func (s *MessageSession) To() []string      { return append([]string(nil), s.to...) }
func (s *MessageSession) MIME() *MIME       { return s.mime }

// SpamScore returns the current accumulated score. More negative means
// more spammy.
func (s *MessageSession) SpamScore() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spamScore
}

// AddScore applies a signed delta and, when non-zero or detail is
// non-empty, appends a spam_details entry. Returns the new total.
func (s *MessageSession) AddScore(delta int64, detail string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spamScore += delta
	if delta != 0 || detail != "" {
		s.spamDetails = append(s.spamDetails, detail)
	}
	return s.spamScore
}

// AppendDetail records a contributing-module note without touching the
// score (used for Spam/Virus/Drop classification messages).
func (s *MessageSession) AppendDetail(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spamDetails = append(s.spamDetails, detail)
}

func (s *MessageSession) SpamDetails() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spamDetails...)
}

// Virus returns the virus label, or "", false if none has been set.
func (s *MessageSession) Virus() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.virus == nil {
		return "", false
	}
	return *s.virus, true
}

// SetVirus marks the session terminally virus-classified. Per spec.md
// §3, once non-null the session is terminal and no further modules run;
// per §4.2's tie-break, a later Spam classification in the same run does
// not override an already-set virus label.
func (s *MessageSession) SetVirus(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.virus == nil {
		s.virus = &label
	}
}

func (s *MessageSession) SetFlag(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = struct{}{}
}

func (s *MessageSession) HasFlag(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.flags[name]
	return ok
}

func (s *MessageSession) Cache() CacheBackref { return s.cache }

func (s *MessageSession) SetCache(c CacheBackref) { s.cache = c }

// Snapshot is the serializable projection of a session stored in a
// QueueCache entry (spec.md §3's "serialized snapshot of score, details,
// flags, envelope").
type Snapshot struct {
	QueueID     string   `json:"queue_id"`
	PrevID      string   `json:"prev_id,omitempty"`
	NextID      string   `json:"next_id,omitempty"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	SpamScore   int64    `json:"spam_score"`
	SpamDetails []string `json:"spam_details,omitempty"`
	Virus       string   `json:"virus,omitempty"`
	Flags       []string `json:"flags,omitempty"`
	IsBounce    bool     `json:"is_bounce,omitempty"`
	OrigFrom    string   `json:"orig_from,omitempty"`
}

// ToSnapshot captures the session's cacheable state.
func (s *MessageSession) ToSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		QueueID:     s.queueID,
		PrevID:      s.prevID,
		NextID:      s.nextID,
		From:        s.from,
		To:          append([]string(nil), s.to...),
		SpamScore:   s.spamScore,
		SpamDetails: append([]string(nil), s.spamDetails...),
	}
	if s.virus != nil {
		snap.Virus = *s.virus
	}
	for f := range s.flags {
		snap.Flags = append(snap.Flags, f)
	}
	return snap
}

// MergeSnapshot folds a previously-cached snapshot into this session,
// the way PipelineEngine inherits score/details/flags at pipeline start
// (spec.md §4.3). It never overwrites an already-set queue_id.
func (s *MessageSession) MergeSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queueID == "" {
		s.queueID = snap.QueueID
	}
	if snap.PrevID != "" {
		s.prevID = snap.PrevID
	}
	s.spamScore += snap.SpamScore
	s.spamDetails = append(s.spamDetails, snap.SpamDetails...)
	if snap.Virus != "" && s.virus == nil {
		v := snap.Virus
		s.virus = &v
	}
	for _, f := range snap.Flags {
		s.flags[f] = struct{}{}
	}
	if s.from == "" {
		s.from = snap.From
	}
}
