package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/action"
	"github.com/iliyamo/catalogue-reservation/internal/authority"
	"github.com/iliyamo/catalogue-reservation/internal/config"
	"github.com/iliyamo/catalogue-reservation/internal/forcededit"
	"github.com/iliyamo/catalogue-reservation/internal/middleware"
	"github.com/iliyamo/catalogue-reservation/internal/model"
	"github.com/iliyamo/catalogue-reservation/internal/poller"
	"github.com/iliyamo/catalogue-reservation/internal/reconcile"
	"github.com/iliyamo/catalogue-reservation/internal/repository"
	"github.com/iliyamo/catalogue-reservation/internal/utils"
)

const secret = "handler-secret"

// authorityStub is a minimal authority: it accepts submissions, serves
// result logs once a result is set and exports an optional internal
// version descriptor.
type authorityStub struct {
	mu           sync.Mutex
	submitStatus int
	submits      int
	result       string
	internal     *authority.InternalVersion
}

func (s *authorityStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/actions":
		s.submits++
		if s.submitStatus != 0 {
			w.WriteHeader(s.submitStatus)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"log_id": "L-1"})
	case strings.HasPrefix(r.URL.Path, "/logs/"):
		if s.result == "" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"result": s.result})
	case strings.HasSuffix(r.URL.Path, "/internal-version"):
		if s.internal == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(s.internal)
	default:
		http.NotFound(w, r)
	}
}

func (s *authorityStub) set(f func(s *authorityStub)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

type stack struct {
	e       *echo.Echo
	auth    *authorityStub
	pending *repository.MemPendingStore
	cats    *repository.MemCatalogueStore
	forced  *forcededit.MemManager
	tick    chan struct{}
	once    sync.Once
}

// release lets the poller run without pausing between attempts.
func (s *stack) release() { s.once.Do(func() { close(s.tick) }) }

var mtx = model.CatalogueRef{Code: "MTX", Version: model.Version{Major: 1, Minor: 2, Internal: 3}}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{
		auth:    &authorityStub{},
		pending: repository.NewMemPendingStore(),
		cats:    repository.NewMemCatalogueStore(),
		forced:  forcededit.NewMemManager(),
		tick:    make(chan struct{}),
	}
	s.cats.Put(model.Catalogue{Code: mtx.Code, Version: mtx.Version}, []byte("content"))

	srv := httptest.NewServer(s.auth)
	t.Cleanup(srv.Close)
	log := zap.NewNop().Sugar()
	client := authority.NewClient(srv.URL, time.Second, log, authority.WithHTTPClients(srv.Client(), srv.Client()))

	sleep := func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.tick:
			return nil
		}
	}
	orch := action.New(action.Deps{
		Pending:    s.pending,
		Catalogues: s.cats,
		Importer:   s.cats,
		Gateway:    client,
		Versions:   reconcile.New(client, log),
		Poller:     poller.New(client, config.PollConfig{HighInterval: time.Second, HighAttempts: 2, LowInterval: time.Second}, log, poller.WithSleep(sleep)),
		Forced:     s.forced,
	}, log)
	t.Cleanup(orch.Shutdown)

	h := NewActionHandler(orch, s.pending, s.cats, s.forced)
	h.AcceptTimeout = 5 * time.Second

	s.e = echo.New()
	g := s.e.Group("/v1", middleware.JWTAuth(secret))
	g.GET("/actions", h.ListActions)
	g.GET("/catalogues/:code/versions/:version", h.GetCatalogue)
	g.GET("/catalogues/:code/versions/:version/forced-edit", h.ForcedEdit)
	g.POST("/catalogues/:code/versions/:version/reserve", h.Reserve)
	g.POST("/catalogues/:code/versions/:version/unreserve", h.Unreserve)
	g.POST("/catalogues/:code/versions/:version/publish", h.Publish)
	g.POST("/catalogues/:code/versions/:version/upload", h.Upload)
	return s
}

func (s *stack) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.doCtx(t, context.Background(), method, path, user, body)
}

func (s *stack) doCtx(t *testing.T, ctx context.Context, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(ctx)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		tok, err := utils.NewAccessToken(secret, user, middleware.RoleEditor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const reservePath = "/v1/catalogues/MTX/versions/1.2.3/reserve"

func TestReserveAccepted(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, reservePath, "alice", `{"level":"major","note":"rename labels"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, "L-1", got["log_id"])
	assert.Equal(t, "RESERVE", got["kind"])
	assert.Equal(t, "MAJOR", got["level"])
	assert.Equal(t, "alice", got["requester"])
	assert.Equal(t, "HIGH", got["priority"])

	rec = s.do(t, http.MethodGet, "/v1/actions", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["actions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "MTX", list[0].(map[string]any)["catalogue"])

	rec = s.do(t, http.MethodGet, "/v1/actions?requester=bob", "alice", "")
	assert.Empty(t, decode(t, rec)["actions"])

	rec = s.do(t, http.MethodGet, "/v1/catalogues/MTX/versions/1.2.3", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["busy"])

	rec = s.do(t, http.MethodPost, reservePath, "bob", `{"level":"minor","note":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReserveResolvesInBackground(t *testing.T) {
	s := newStack(t)
	s.auth.set(func(a *authorityStub) { a.result = "OK" })
	s.release()

	rec := s.do(t, http.MethodPost, reservePath, "alice", `{"level":"MINOR","note":"typo"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		c, err := s.cats.Get(context.Background(), mtx)
		return err == nil && c.ReservedLevel != nil && !c.Busy
	}, 5*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/v1/catalogues/MTX/versions/1.2.3", "alice", "")
	got := decode(t, rec)
	assert.Equal(t, "MINOR", got["reserved_level"])
	assert.Equal(t, "alice", got["reserved_by"])

	require.Eventually(t, func() bool {
		all, _ := s.pending.GetAll(context.Background())
		return len(all) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReserveMinorOnMajorDraft(t *testing.T) {
	s := newStack(t)
	s.auth.set(func(a *authorityStub) {
		a.internal = &authority.InternalVersion{VersionID: "v2", Version: "2.0.0", Major: true, Draft: true}
	})

	rec := s.do(t, http.MethodPost, reservePath, "alice", `{"level":"minor","note":"x"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Zero(t, s.auth.submits)
}

func TestSubmitFailuresMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   int
	}{
		{"busy", http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"refused", http.StatusForbidden, http.StatusForbidden},
		{"down", http.StatusInternalServerError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t)
			s.auth.set(func(a *authorityStub) { a.submitStatus = tt.status })

			rec := s.do(t, http.MethodPost, reservePath, "alice", `{"level":"major","note":"x"}`)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			all, err := s.pending.GetAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestBadRequests(t *testing.T) {
	s := newStack(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, reservePath, "", `{"level":"major","note":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/catalogues/MTX/versions/1.x/reserve", "alice", `{"level":"major","note":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, reservePath, "alice", `{"level":"huge","note":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, reservePath, "alice", `{"level":"major"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/catalogues/MTX/versions/1.2.3/publish", "alice", `{}`).Code)
	assert.Zero(t, s.auth.submits)
}

func TestPublishAndUploadAccepted(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/v1/catalogues/MTX/versions/1.2.3/publish", "alice", `{"level":"minor"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "PUBLISH_MINOR", decode(t, rec)["kind"])

	rec = s.do(t, http.MethodPost, "/v1/catalogues/GEO/versions/3/upload", "alice", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "UPLOAD_DATA", decode(t, rec)["kind"])
	assert.Equal(t, "3.0.0", decode(t, rec)["version"])
}

func TestForcedEditEndpoint(t *testing.T) {
	s := newStack(t)
	path := "/v1/catalogues/MTX/versions/1.2.3/forced-edit"

	rec := s.do(t, http.MethodGet, path, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["granted"])

	require.NoError(t, s.forced.Grant(context.Background(), mtx, "alice", model.LevelMajor))
	rec = s.do(t, http.MethodGet, path, "alice", "")
	got := decode(t, rec)
	assert.Equal(t, true, got["granted"])
	assert.Equal(t, "MAJOR", got["level"])

	rec = s.do(t, http.MethodGet, path, "bob", "")
	assert.Equal(t, false, decode(t, rec)["granted"])
}

func TestGetCatalogueNotFound(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodGet, "/v1/catalogues/NOPE/versions/1.0.0", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientGoneWhileStartingIsNotAnError(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := s.doCtx(t, ctx, http.MethodPost, reservePath, "alice", `{"level":"major","note":"rename labels"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		a, err := s.pending.GetByCatalogue(context.Background(), mtx)
		return err == nil && a != nil
	}, 5*time.Second, 10*time.Millisecond)
}
