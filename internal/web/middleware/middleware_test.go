package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustedRealIP(t *testing.T) {
	handler := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(r.RemoteAddr))
		}))

	tests := []struct {
		name    string
		remote  string
		realIP  string
		forward string
		want    string
	}{
		{"untrusted peer ignores headers", "203.0.113.7:5000", "1.2.3.4", "", "203.0.113.7:5000"},
		{"trusted cidr uses X-Real-IP", "10.1.2.3:5000", "1.2.3.4", "5.6.7.8", "1.2.3.4"},
		{"trusted single ip uses X-Forwarded-For", "192.168.1.5:443", "", "5.6.7.8, 10.1.1.1", "5.6.7.8"},
		{"invalid header keeps peer", "10.1.2.3:5000", "garbage", "", "10.1.2.3:5000"},
		{"no headers keeps peer", "10.1.2.3:5000", "", "", "10.1.2.3:5000"},
		{"ipv6 forwarded", "10.1.2.3:5000", "", "2001:db8::1", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forward != "" {
				req.Header.Set("X-Forwarded-For", tt.forward)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestLoggerCapturesStatus(t *testing.T) {
	var flushed bool
	handler := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK) // ignored
		w.Write([]byte("short and stout"))

		f, ok := w.(http.Flusher)
		require.True(t, ok, "logger must not hide http.Flusher")
		f.Flush()
		flushed = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
	assert.True(t, flushed)
	assert.True(t, rec.Flushed)
}

func TestIsValidAPIKey(t *testing.T) {
	keys := []string{"alpha", "beta"}
	assert.True(t, isValidAPIKey("alpha", keys))
	assert.True(t, isValidAPIKey("beta", keys))
	assert.False(t, isValidAPIKey("gamma", keys))
	assert.False(t, isValidAPIKey("alph", keys))
	assert.False(t, isValidAPIKey("alpha", nil))
}

func TestRequestAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, requestAPIKey(req))

	req.Header.Set("Authorization", "bearer tok")
	assert.Equal(t, "tok", requestAPIKey(req))

	req.Header.Set("X-API-Key", "key")
	assert.Equal(t, "key", requestAPIKey(req), "X-API-Key wins over Authorization")
}
