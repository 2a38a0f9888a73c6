package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fjtraindriver/proxy-one-api/internal/healthstore"
)

const testHealthPath = "/api/notice"

func newTestRouter(primary, backup string, store healthstore.Store) *Router {
	return NewRouter(RouterConfig{
		PrimaryOrigin:   primary,
		BackupOrigin:    backup,
		HealthCheckPath: testHealthPath,
		ProbeTimeout:    2 * time.Second,
		RecordTTL:       600 * time.Second,
		Store:           store,
	})
}

// failingStore simulates an unavailable health store.
type failingStore struct {
	writes atomic.Int32
}

func (f *failingStore) Status(ctx context.Context) (healthstore.Status, error) {
	return healthstore.StatusUnknown, errors.New("store offline")
}

func (f *failingStore) SetStatus(ctx context.Context, s healthstore.Status, ttl time.Duration) error {
	f.writes.Add(1)
	return errors.New("store offline")
}

func requireRecorded(t *testing.T, store healthstore.Store, want healthstore.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := store.Status(context.Background())
		return err == nil && got == want
	}, 2*time.Second, 10*time.Millisecond, "health record should become %s", want)
}

func TestProbePathPrimaryHealthy(t *testing.T) {
	var primaryBody atomic.Value
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		primaryBody.Store(string(b))
		w.Header().Set("X-Origin", "primary")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("primary says hi"))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backup must not be contacted when the primary is healthy")
	}))
	defer backup.Close()

	store := healthstore.NewMemoryStore()
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("POST", "http://edge.test"+testHealthPath, strings.NewReader(`{"ping":true}`))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, "any 2xx must be relayed as-is")
	require.Equal(t, "primary says hi", rec.Body.String())
	require.Equal(t, "primary", rec.Header().Get("X-Origin"))
	require.Equal(t, `{"ping":true}`, primaryBody.Load())

	requireRecorded(t, store, healthstore.StatusUp)
}

func TestProbePathFailoverOnErrorStatus(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	var backupBody atomic.Value
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		backupBody.Store(string(b))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("backup took over"))
	}))
	defer backup.Close()

	store := healthstore.NewMemoryStore()
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("POST", "http://edge.test"+testHealthPath, strings.NewReader(`{"x":1}`))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "backup took over", rec.Body.String())
	require.Equal(t, `{"x":1}`, backupBody.Load(), "the buffered body must be replayed against the backup")

	requireRecorded(t, store, healthstore.StatusDown)
}

func TestProbePathFailoverOnUnreachablePrimary(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	primary.Close() // connection refused from here on

	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("backup"))
	}))
	defer backup.Close()

	store := healthstore.NewMemoryStore()
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("GET", "http://edge.test"+testHealthPath, nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "backup", rec.Body.String())
	requireRecorded(t, store, healthstore.StatusDown)
}

func TestProbePathFailoverOnTimeout(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("backup"))
	}))
	defer backup.Close()

	store := healthstore.NewMemoryStore()
	rt := NewRouter(RouterConfig{
		PrimaryOrigin:   primary.URL,
		BackupOrigin:    backup.URL,
		HealthCheckPath: testHealthPath,
		ProbeTimeout:    50 * time.Millisecond,
		Store:           store,
	})

	req := httptest.NewRequest("GET", "http://edge.test"+testHealthPath, nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "backup", rec.Body.String())
	requireRecorded(t, store, healthstore.StatusDown)
}

func TestProbePathBackupAlsoDown(t *testing.T) {
	primary := httptest.NewServer(nil)
	primary.Close()
	backup := httptest.NewServer(nil)
	backup.Close()

	rt := newTestRouter(primary.URL, backup.URL, healthstore.NewMemoryStore())

	req := httptest.NewRequest("GET", "http://edge.test"+testHealthPath, nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	// No tertiary target: the backup's failure surfaces to the caller.
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProbePathUnreadableBody(t *testing.T) {
	store := healthstore.NewMemoryStore()
	rt := newTestRouter("http://unused.test", "http://unused.test", store)

	req := httptest.NewRequest("POST", "http://edge.test"+testHealthPath, iotest.ErrReader(errors.New("broken pipe")))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	got, err := store.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, healthstore.StatusUnknown, got, "no probe happened, no record written")
}

func TestDefaultPathRoutesToPrimaryWhenRecordAbsent(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("primary"))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backup must not be contacted while the record is absent")
	}))
	defer backup.Close()

	store := healthstore.NewMemoryStore()
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("GET", "http://edge.test/anything", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "primary", rec.Body.String())

	got, err := store.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, healthstore.StatusUnknown, got, "the default path never writes the record")
}

func TestDefaultPathRoutesToBackupWhenRecordDown(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
	}))
	defer primary.Close()

	var backupPath atomic.Value
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath.Store(r.URL.RequestURI())
		_, _ = w.Write([]byte("backup"))
	}))
	defer backup.Close()

	store := healthstore.NewMemoryStore()
	require.NoError(t, store.SetStatus(context.Background(), healthstore.StatusDown, time.Minute))
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("GET", "http://edge.test/widgets?id=9", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "backup", rec.Body.String())
	require.Equal(t, "/widgets?id=9", backupPath.Load(), "path and query must be preserved")
	require.Zero(t, primaryHits.Load(), "primary must not be contacted while the record says down")
}

func TestDefaultPathFailsOpenOnStoreError(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("primary"))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backup must not be contacted on a store read failure")
	}))
	defer backup.Close()

	store := &failingStore{}
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("GET", "http://edge.test/anything", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "primary", rec.Body.String())
}

func TestDefaultPathSurfacesUpstreamError(t *testing.T) {
	primary := httptest.NewServer(nil)
	primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("the default path never retries against the other origin")
	}))
	defer backup.Close()

	rt := newTestRouter(primary.URL, backup.URL, healthstore.NewMemoryStore())

	req := httptest.NewRequest("GET", "http://edge.test/anything", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRedirectPassthrough(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://elsewhere.example.com/login")
		w.WriteHeader(http.StatusFound)
	}))
	defer primary.Close()
	backup := httptest.NewServer(nil)
	defer backup.Close()

	rt := newTestRouter(primary.URL, backup.URL, healthstore.NewMemoryStore())

	req := httptest.NewRequest("GET", "http://edge.test/login", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code, "3xx must reach the caller unmodified")
	require.Equal(t, "https://elsewhere.example.com/login", rec.Header().Get("Location"))
}

func TestForwardedHostReachesOrigin(t *testing.T) {
	var fwdHost atomic.Value
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fwdHost.Store(r.Header.Get("X-Forwarded-Host"))
	}))
	defer primary.Close()
	backup := httptest.NewServer(nil)
	defer backup.Close()

	rt := newTestRouter(primary.URL, backup.URL, healthstore.NewMemoryStore())

	req := httptest.NewRequest("GET", "http://edge.example.com/x", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, "edge.example.com", fwdHost.Load())
}

func TestRecordWriteFailureDoesNotAffectResponse(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer primary.Close()
	backup := httptest.NewServer(nil)
	defer backup.Close()

	store := &failingStore{}
	rt := newTestRouter(primary.URL, backup.URL, store)

	req := httptest.NewRequest("GET", "http://edge.test"+testHealthPath, nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Eventually(t, func() bool { return store.writes.Load() == 1 },
		2*time.Second, 10*time.Millisecond, "the write is still attempted, fire-and-forget")
}
