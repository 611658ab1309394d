package antivirus

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eicarBody = "X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE"

func TestClamAV_ScanBytes_CleanPayload(t *testing.T) {
	c := NewClamAV(Config{Name: "clamav", Address: "127.0.0.1:3310"})
	require.NoError(t, c.Connect())

	result, err := c.ScanBytes(context.Background(), []byte("Subject: hi\r\n\r\nhello"))
	require.NoError(t, err)
	assert.True(t, result.Clean)
	assert.Empty(t, result.Infections)
}

func TestClamAV_ScanBytes_DetectsEICAR(t *testing.T) {
	c := NewClamAV(Config{Name: "clamav", Address: "127.0.0.1:3310"})
	require.NoError(t, c.Connect())

	result, err := c.ScanBytes(context.Background(), []byte(eicarBody))
	require.NoError(t, err)
	assert.False(t, result.Clean)
	assert.Equal(t, []string{"EICAR-Test-File"}, result.Infections)
}

func TestClamAV_ScanBytes_NotConnected_Errors(t *testing.T) {
	c := NewClamAV(Config{Name: "clamav"})
	_, err := c.ScanBytes(context.Background(), []byte("body"))
	assert.Error(t, err)
}

func TestClamAV_ScanReader_DelegatesToScanBytes(t *testing.T) {
	c := NewClamAV(Config{Name: "clamav"})
	require.NoError(t, c.Connect())

	result, err := c.ScanReader(context.Background(), strings.NewReader(eicarBody))
	require.NoError(t, err)
	assert.False(t, result.Clean)
}

func TestClamAV_NameAndType(t *testing.T) {
	c := NewClamAV(Config{Name: "clamav"})
	assert.Equal(t, "clamav", c.Name())
	assert.Equal(t, "clamav", c.Type())
}

func TestClamAV_ConnectCloseLifecycle(t *testing.T) {
	c := NewClamAV(Config{Name: "clamav"})
	assert.False(t, c.IsConnected())

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

var _ Scanner = (*ClamAV)(nil)
