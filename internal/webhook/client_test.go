package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(1)
	err := client.Send(context.Background(), srv.URL, EventMediaCompleted, map[string]any{"job_id": "job-1"})
	require.NoError(t, err)

	assert.Equal(t, EventMediaCompleted, gotEvt)
	assert.Equal(t, "1700000000", gotTS)
	assert.JSONEq(t, `{"job_id":"job-1"}`, string(gotBody))
	assert.NoError(t, Verify("test-secret", gotTS, gotBody, gotSig, time.Unix(1700000030, 0), time.Minute))
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(3).Send(context.Background(), srv.URL, EventMediaFailed, map[string]string{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := newTestClient(4).Send(context.Background(), srv.URL, EventMediaFailed, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=410")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	assert.NoError(t, newTestClient(1).Send(context.Background(), "  ", EventMediaCompleted, nil))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"job_id":"j"}`)
	now := time.Unix(1700000000, 0)
	sig := Sign("s3cret", "1700000000", body)

	tests := []struct {
		name      string
		secret    string
		timestamp string
		body      []byte
		signature string
		wantErr   bool
	}{
		{"valid", "s3cret", "1700000000", body, sig, false},
		{"wrong secret", "other", "1700000000", body, sig, true},
		{"tampered body", "s3cret", "1700000000", []byte(`{"job_id":"k"}`), sig, true},
		{"missing prefix", "s3cret", "1700000000", body, sig[len(signaturePrefix):], true},
		{"stale timestamp", "s3cret", "1699990000", body, Sign("s3cret", "1699990000", body), true},
		{"bad timestamp", "s3cret", "yesterday", body, Sign("s3cret", "yesterday", body), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(tc.secret, tc.timestamp, tc.body, tc.signature, now, 5*time.Minute)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func newTestClient(attempts int) *Client {
	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	return client
}
