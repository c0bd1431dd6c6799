package wp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds(baseURL string) *Credentials {
	return &Credentials{BaseURL: baseURL, AuthMode: AuthBasic, User: "svc", Secret: "s3cret"}
}

func newTestClient() *Client {
	return NewClient(logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestListPage_SendsAuthAndPaging(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]Item{{ID: 7}})
	}))
	defer srv.Close()

	items, err := newTestClient().ListPage(context.Background(), testCreds(srv.URL), ResourcePages, 2, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(7), items[0].ID)
	assert.Contains(t, gotAuth, "Basic ")
	assert.Contains(t, gotQuery, "page=2")
	assert.Contains(t, gotQuery, "per_page=50")
}

func TestListModifiedSince_QueryShape(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]Item{})
	}))
	defer srv.Close()

	after := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := newTestClient().ListModifiedSince(context.Background(), testCreds(srv.URL), ResourcePosts, after, 1, 100)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "orderby=modified")
	assert.Contains(t, gotQuery, "order=asc")
	assert.Contains(t, gotQuery, "modified_after=2026-03-01T12%3A00%3A00Z")
}

func TestListPage_PastEndReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"rest_post_invalid_page_number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	items, err := newTestClient().ListPage(context.Background(), testCreds(srv.URL), ResourcePages, 9, 100)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGet_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient().Get(context.Background(), testCreds(srv.URL), ResourcePages, 42)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Item{ID: 1})
	}))
	defer srv.Close()

	item, err := newTestClient().Get(context.Background(), testCreds(srv.URL), ResourcePosts, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient().Get(context.Background(), testCreds(srv.URL), ResourcePosts, 1)
	require.ErrorIs(t, err, common.ErrUpstream)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_UnsupportedAuthMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	creds := &Credentials{BaseURL: srv.URL, AuthMode: "oauth1"}
	_, err := newTestClient().Get(context.Background(), creds, ResourcePages, 1)
	assert.ErrorIs(t, err, common.ErrUnsupportedAuth)
}

func TestCreate_SendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotBody WritePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(Item{ID: 90, Status: "publish"})
	}))
	defer srv.Close()

	creds := &Credentials{BaseURL: srv.URL, AuthMode: AuthBearer, Secret: "tok"}
	item, err := newTestClient().Create(context.Background(), creds, ResourcePosts,
		&WritePayload{Title: "hello", Content: "<p>hi</p>"}, "push-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(90), item.ID)
	assert.Equal(t, "push-abc", gotKey)
	assert.Equal(t, "hello", gotBody.Title)
}

func TestGetCustomFields_EmptyWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 5}`))
	}))
	defer srv.Close()

	fields, err := newTestClient().GetCustomFields(context.Background(), testCreds(srv.URL), ResourcePages, 5)
	require.NoError(t, err)
	assert.NotNil(t, fields)
	assert.Empty(t, fields)
}

func TestTime_UnmarshalGMTFormat(t *testing.T) {
	var item Item
	err := json.Unmarshal([]byte(`{"id":1,"modified_gmt":"2026-01-15T08:30:00"}`), &item)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC), item.ModifiedGMT.Time)
}

func TestGet_MalformedBodyIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient().Get(context.Background(), testCreds(srv.URL), ResourcePages, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUpstream))
}
