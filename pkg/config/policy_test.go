package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPolicyStoreEmptyPathExemptsNothing(t *testing.T) {
	s, err := NewPolicyStore("", quietLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.IsCSRFExempt("/api/webhooks/inbound"))
	assert.False(t, s.IsRateLimitExempt("/healthz"))
}

func TestPolicyStoreMatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, `
csrf_exempt:
  - /api/webhooks/inbound
  - /api/integrations/
rate_limit_exempt:
  - /healthz
`)

	s, err := NewPolicyStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsCSRFExempt("/api/webhooks/inbound"))
	assert.True(t, s.IsCSRFExempt("/api/integrations/xero/callback"))
	assert.False(t, s.IsCSRFExempt("/api/integrations"))
	assert.False(t, s.IsCSRFExempt("/api/roles"))

	assert.True(t, s.IsRateLimitExempt("/healthz"))
	assert.False(t, s.IsRateLimitExempt("/api/roles"))
}

func TestPolicyStoreRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "csrf_exempt: {not: a list}")

	_, err := NewPolicyStore(path, quietLogger())
	require.Error(t, err)
}

func TestPolicyStoreReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "csrf_exempt: []\n")

	s, err := NewPolicyStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	require.False(t, s.IsCSRFExempt("/api/webhooks/inbound"))

	writePolicy(t, path, "csrf_exempt:\n  - /api/webhooks/inbound\n")

	deadline := time.After(3 * time.Second)
	for !s.IsCSRFExempt("/api/webhooks/inbound") {
		select {
		case <-deadline:
			t.Fatal("policy never reloaded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPolicyStoreKeepsLastGoodOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "csrf_exempt:\n  - /api/webhooks/inbound\n")

	s, err := NewPolicyStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	writePolicy(t, path, "csrf_exempt: {broken")

	// the bad file must not wipe the previous policy
	time.Sleep(100 * time.Millisecond)
	assert.True(t, s.IsCSRFExempt("/api/webhooks/inbound"))
}
