package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 0, zap.NewNop().Sugar(), WithHTTPClients(srv.Client(), srv.Client()))
}

var testReq = SubmitRequest{
	Kind:      model.KindReserve,
	Catalogue: model.CatalogueRef{Code: "MTX", Version: model.Version{Major: 1, Minor: 2, Internal: 3}},
	Level:     model.LevelMajor,
	Note:      "fix labels",
}

func TestSubmitReturnsLogID(t *testing.T) {
	var got submitBody
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/actions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"log_id":"L-17"}`))
	}))

	id, outcome := c.Submit(context.Background(), testReq)
	assert.Equal(t, model.OutcomeOK, outcome)
	assert.Equal(t, "L-17", id)
	assert.Equal(t, submitBody{Action: "reserve", Catalogue: "MTX", Version: "1.2.3", Level: "major", Note: "fix labels"}, got)
}

func TestSubmitClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   model.RemoteOutcome
	}{
		{"busy status", http.StatusServiceUnavailable, "", model.OutcomeBusy},
		{"busy ack", http.StatusAccepted, `{"busy":true}`, model.OutcomeBusy},
		{"forbidden", http.StatusForbidden, "", model.OutcomeForbidden},
		{"rejected", http.StatusConflict, "", model.OutcomeRejected},
		{"server error", http.StatusInternalServerError, "", model.OutcomeTransportError},
		{"garbage ack", http.StatusAccepted, `<soap/>`, model.OutcomeTransportError},
		{"missing id", http.StatusAccepted, `{}`, model.OutcomeTransportError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			id, outcome := c.Submit(context.Background(), testReq)
			assert.Equal(t, tt.want, outcome)
			assert.Empty(t, id)
		})
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, 0, zap.NewNop().Sugar(), WithHTTPClients(http.DefaultClient, http.DefaultClient))
	_, outcome := c.Submit(context.Background(), testReq)
	assert.Equal(t, model.OutcomeTransportError, outcome)
}

func TestFetchResultLog(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/logs/done":
			_, _ = w.Write([]byte(`{"result":"OK","messages":["reserved"]}`))
		case "/logs/pending":
			w.WriteHeader(http.StatusAccepted)
		case "/logs/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	l, err := c.FetchResultLog(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "done", l.LogID)
	assert.Equal(t, model.OutcomeOK, c.InterpretLog(l))

	l, err = c.FetchResultLog(ctx, "pending")
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = c.FetchResultLog(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = c.FetchResultLog(ctx, "broken")
	assert.Error(t, err)
}

func TestInterpretLog(t *testing.T) {
	assert.Equal(t, model.OutcomeOK, InterpretLog(&ResultLog{Result: "ok"}))
	assert.Equal(t, model.OutcomeForbidden, InterpretLog(&ResultLog{Result: "FORBIDDEN"}))
	assert.Equal(t, model.OutcomeRejected, InterpretLog(&ResultLog{Result: "REJECTED"}))
	assert.Equal(t, model.OutcomeRejected, InterpretLog(&ResultLog{Result: "something else"}))
	assert.Equal(t, model.OutcomeRejected, InterpretLog(nil))
}

func TestExportInternalVersion(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/catalogues/MTX/internal-version" {
			_ = json.NewEncoder(w).Encode(InternalVersion{VersionID: "v9", Version: "1.3.0", Major: true, Draft: true, Payload: []byte("xml")})
			return
		}
		http.NotFound(w, r)
	}))

	iv, err := c.ExportInternalVersion(context.Background(), "MTX")
	require.NoError(t, err)
	require.NotNil(t, iv)
	assert.Equal(t, "v9", iv.VersionID)
	assert.True(t, iv.Major && iv.Draft)
	assert.Equal(t, []byte("xml"), iv.Payload)

	iv, err = c.ExportInternalVersion(context.Background(), "GEO")
	require.NoError(t, err)
	assert.Nil(t, iv)
}
