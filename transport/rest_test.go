package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kramer-control/brain-client-go/brainerr"
	"github.com/kramer-control/brain-client-go/transport"
	"github.com/stretchr/testify/require"
)

func TestRESTClientAutoRetryOn5xxThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := transport.NewRESTClient(transport.RESTOptions{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		AutoRetry: true,
		MaxRetries: 5,
	})

	resp, err := client.Get(context.Background(), "general", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, resp.Body["ok"])
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestRESTClient403ShortCircuitsWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := transport.NewRESTClient(transport.RESTOptions{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		AutoRetry: true,
	})

	_, err := client.Get(context.Background(), "devices", nil)
	require.ErrorIs(t, err, brainerr.ErrUnauthorized)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRESTClientOtherFourXXReturnedNotErrored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"missing"}`))
	}))
	defer srv.Close()

	client := transport.NewRESTClient(transport.RESTOptions{BaseURL: srv.URL, Timeout: time.Second})
	resp, err := client.Get(context.Background(), "devices/does-not-exist", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "missing", resp.Body["error"])
}

func TestRESTClientPendingCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var events []bool
	client := transport.NewRESTClient(transport.RESTOptions{
		BaseURL: srv.URL,
		Timeout: time.Second,
		OnPending: func(pending bool) {
			events = append(events, pending)
		},
	})

	_, err := client.Get(context.Background(), "status", nil)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, events)
}
