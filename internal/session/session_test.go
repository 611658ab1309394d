package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *MessageSession {
	return New("msg-1", "/spool/queue/mail-1", 100, "from@example.com", []string{"a@example.com", "b@example.com"})
}

func TestNew_CopiesRecipientSlice(t *testing.T) {
	to := []string{"a@example.com"}
	s := New("msg-1", "/spool/mail-1", 1, "from@example.com", to)
	to[0] = "mutated@example.com"
	assert.Equal(t, []string{"a@example.com"}, s.To())
}

func TestSetQueueID_ImmutableOnceSet(t *testing.T) {
	s := newTestSession()

	ok := s.SetQueueID("QID-1")
	require.True(t, ok)
	assert.Equal(t, "QID-1", s.QueueID())

	ok = s.SetQueueID("QID-2")
	assert.False(t, ok)
	assert.Equal(t, "QID-1", s.QueueID())

	ok = s.SetQueueID("QID-1")
	assert.True(t, ok)
}

func TestAddScore_AccumulatesAndRecordsDetail(t *testing.T) {
	s := newTestSession()

	total := s.AddScore(-5, "cmdfilter: -5")
	assert.Equal(t, int64(-5), total)

	total = s.AddScore(-10, "spamc: -10")
	assert.Equal(t, int64(-15), total)

	assert.Equal(t, []string{"cmdfilter: -5", "spamc: -10"}, s.SpamDetails())
}

func TestAddScore_ZeroDeltaEmptyDetail_NoRecord(t *testing.T) {
	s := newTestSession()
	s.AddScore(0, "")
	assert.Empty(t, s.SpamDetails())
}

func TestSetVirus_FirstWriteWins(t *testing.T) {
	s := newTestSession()

	s.SetVirus("Eicar-Test-Signature")
	s.SetVirus("Some-Other-Label")

	label, ok := s.Virus()
	require.True(t, ok)
	assert.Equal(t, "Eicar-Test-Signature", label)
}

func TestVirus_UnsetByDefault(t *testing.T) {
	s := newTestSession()
	_, ok := s.Virus()
	assert.False(t, ok)
}

func TestFlags_SetAndHas(t *testing.T) {
	s := newTestSession()
	assert.False(t, s.HasFlag("trained"))

	s.SetFlag("trained")
	assert.True(t, s.HasFlag("trained"))
}

func TestToSnapshot_CapturesState(t *testing.T) {
	s := newTestSession()
	s.SetQueueID("QID-1")
	s.AddScore(-8, "spamc: -8")
	s.SetVirus("Eicar")
	s.SetFlag("trained")

	snap := s.ToSnapshot()
	assert.Equal(t, "QID-1", snap.QueueID)
	assert.Equal(t, int64(-8), snap.SpamScore)
	assert.Equal(t, []string{"spamc: -8"}, snap.SpamDetails)
	assert.Equal(t, "Eicar", snap.Virus)
	assert.Equal(t, []string{"trained"}, snap.Flags)
}

func TestMergeSnapshot_AddsScoreAndPreservesExistingQueueID(t *testing.T) {
	s := newTestSession()
	s.SetQueueID("QID-ORIGINAL")
	s.AddScore(-3, "local: -3")

	s.MergeSnapshot(Snapshot{
		QueueID:     "QID-FROM-SNAPSHOT",
		SpamScore:   -10,
		SpamDetails: []string{"cached: -10"},
		Flags:       []string{"seen-before"},
	})

	assert.Equal(t, "QID-ORIGINAL", s.QueueID())
	assert.Equal(t, int64(-13), s.SpamScore())
	assert.Equal(t, []string{"local: -3", "cached: -10"}, s.SpamDetails())
	assert.True(t, s.HasFlag("seen-before"))
}

func TestMergeSnapshot_DoesNotOverrideAlreadySetVirus(t *testing.T) {
	s := newTestSession()
	s.SetVirus("First")

	s.MergeSnapshot(Snapshot{Virus: "Second"})

	label, ok := s.Virus()
	require.True(t, ok)
	assert.Equal(t, "First", label)
}

func TestMergeSnapshot_FillsEmptyQueueIDAndFrom(t *testing.T) {
	s := New("msg-1", "/spool/mail-1", 1, "", nil)

	s.MergeSnapshot(Snapshot{QueueID: "QID-1", From: "orig@example.com"})

	assert.Equal(t, "QID-1", s.QueueID())
	assert.Equal(t, "orig@example.com", s.From())
}

func TestSetPrevNextID(t *testing.T) {
	s := newTestSession()
	s.SetPrevID("PREV-1")
	s.SetNextID("NEXT-1")
	assert.Equal(t, "PREV-1", s.PrevID())
	assert.Equal(t, "NEXT-1", s.NextID())
}
