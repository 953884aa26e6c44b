package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsSlackPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	hook := NewWebhook(srv.URL, "#pairs", srv.Client(), zerolog.New(&buf))
	require.NoError(t, hook.Alert(context.Background(), Critical, "order failed"))

	assert.Equal(t, "#pairs", got.Channel)
	assert.Equal(t, "[critical] order failed", got.Text)
	assert.Contains(t, buf.String(), `"alert":"critical"`)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, "", srv.Client(), zerolog.Nop())
	err := hook.Alert(context.Background(), Warning, "x")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "403"))
}

type failing struct{ calls *int }

func (f failing) Alert(context.Context, Level, string) error {
	*f.calls++
	return assert.AnError
}

func TestMultiCallsEveryAlerter(t *testing.T) {
	calls := 0
	var buf bytes.Buffer
	m := Multi{failing{&calls}, LogAlerter{Log: zerolog.New(&buf)}, failing{&calls}}
	err := m.Alert(context.Background(), Info, "hello")
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, calls)
	assert.Contains(t, buf.String(), "hello")
}
