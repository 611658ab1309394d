package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSubdirectories(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	for _, dir := range []string{s.TempDir(), s.QueueDir(), s.MIMEDir(), s.FailureDir(), s.QuarantineDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestReceive_WritesMailFileAndInfoSidecar(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	body := "Subject: hi\r\n\r\nhello world"
	path, size, err := s.Receive(strings.NewReader(body), "from@example.com", []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	info, err := s.ReadInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "from@example.com", info.From)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, info.To)
	assert.Equal(t, int64(len(body)), info.Size)
}

func TestCleanup_RemovesMailFileAndSidecar(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	path, _, err := s.Receive(strings.NewReader("body"), "a@b.com", []string{"c@d.com"})
	require.NoError(t, err)

	s.Cleanup(path)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".info")
	assert.True(t, os.IsNotExist(err))
}

func TestCopyToFailure_PreservesContent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	path, _, err := s.Receive(strings.NewReader("body"), "a@b.com", []string{"c@d.com"})
	require.NoError(t, err)

	dest, err := s.CopyToFailure(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(dest), s.FailureDir())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestCopyToQuarantine_NamesFileWithSanitizedAddresses(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	path, _, err := s.Receive(strings.NewReader("body"), "a@b.com", []string{"c@d.com"})
	require.NoError(t, err)

	dest, err := s.CopyToQuarantine(path, "sender@bad.example", "rcpt@good.example")
	require.NoError(t, err)

	name := filepath.Base(dest)
	assert.Contains(t, name, "FROM_sender-bad.example")
	assert.Contains(t, name, "TO_rcpt-good.example")
	assert.Equal(t, filepath.Dir(dest), s.QuarantineDir())
}

func TestSanitizeAddr_ReplacesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "sender-bad.example", sanitizeAddr("sender@bad.example"))
	assert.Equal(t, "a-b-c", sanitizeAddr("a b/c"))
}

func TestReadInfo_MissingSidecar_Errors(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.ReadInfo(filepath.Join(s.Root(), "mail-nonexistent"))
	assert.Error(t, err)
}

func TestNewID_ReturnsDistinctValues(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}
