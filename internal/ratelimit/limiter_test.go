package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int, span time.Duration) (*Limiter, *time.Time) {
	t.Helper()
	l := New(max, span)
	t.Cleanup(l.Close)

	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AdmitWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit("client"), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Admit("client"), "request over the limit must be denied")
}

func TestLimiter_WindowReset(t *testing.T) {
	l, now := newTestLimiter(t, 2, time.Minute)

	require.True(t, l.Admit("client"))
	require.True(t, l.Admit("client"))
	require.False(t, l.Admit("client"))

	*now = now.Add(61 * time.Second)
	assert.True(t, l.Admit("client"), "a fresh window admits again")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)

	require.True(t, l.Admit("a"))
	require.False(t, l.Admit("a"))
	assert.True(t, l.Admit("b"), "another client is unaffected")
}

func TestLimiter_Retry(t *testing.T) {
	l, now := newTestLimiter(t, 1, time.Minute)

	assert.Zero(t, l.Retry("client"), "unused key has no wait")

	require.True(t, l.Admit("client"))
	require.False(t, l.Admit("client"))

	wait := l.Retry("client")
	assert.Equal(t, time.Minute, wait)

	*now = now.Add(40 * time.Second)
	assert.Equal(t, 20*time.Second, l.Retry("client"))
}

func TestLimiter_CleanupDropsExpiredWindows(t *testing.T) {
	l, now := newTestLimiter(t, 1, time.Minute)

	require.True(t, l.Admit("client"))
	*now = now.Add(2 * time.Minute)
	l.runCleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.windows)
}

func TestLimiter_DefaultsApplied(t *testing.T) {
	l := New(0, 0)
	defer l.Close()

	assert.Equal(t, DefaultMaxRequests, l.max)
	assert.Equal(t, DefaultWindow, l.span)
}

func TestLimiter_CloseIsIdempotent(t *testing.T) {
	l := New(1, time.Minute)
	l.Close()
	l.Close()
}

func TestClientKey_HeaderPriority(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		wantIP  string
	}{
		{
			name:    "cloudflare header wins",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "198.51.100.1"},
			remote:  "10.0.0.1:1234",
			wantIP:  "203.0.113.7",
		},
		{
			name:    "first forwarded entry",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"},
			remote:  "10.0.0.1:1234",
			wantIP:  "198.51.100.1",
		},
		{
			name:    "real ip fallback",
			headers: map[string]string{"X-Real-IP": "192.0.2.9"},
			remote:  "10.0.0.1:1234",
			wantIP:  "192.0.2.9",
		},
		{
			name:   "remote address last",
			remote: "10.0.0.1:1234",
			wantIP: "10.0.0.1",
		},
		{
			name:    "garbage headers skipped",
			headers: map[string]string{"CF-Connecting-IP": "not-an-ip", "X-Forwarded-For": "also bad"},
			remote:  "10.0.0.1:1234",
			wantIP:  "10.0.0.1",
		},
		{
			name:   "nothing parseable uses sentinel",
			remote: "bogus",
			wantIP: unknownClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/messages", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, hashKey(tt.wantIP), ClientKey(r))
		})
	}
}

func TestClientKey_IsHashedAndStable(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/messages", nil)
	r.RemoteAddr = "192.0.2.1:5555"

	key := ClientKey(r)
	assert.Len(t, key, 64, "sha-256 hex digest")
	assert.NotContains(t, key, "192.0.2.1")
	assert.Equal(t, key, ClientKey(r))
}
