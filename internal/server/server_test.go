package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/rotary/internal/kernel"
	"github.com/samcharles93/rotary/internal/rope"
)

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	static, err := rope.New(rope.Config{HeadSize: 4, RotaryDim: 4, MaxPositions: 32, Base: 10_000}, kernel.CPU{})
	require.NoError(t, err)
	adaptive, err := rope.New(rope.Config{
		HeadSize:        4,
		RotaryDim:       4,
		MaxPositions:    32,
		Base:            10_000,
		Kind:            rope.KindAdaptiveNTK,
		ReferenceLength: 8,
	}, kernel.CPU{})
	require.NoError(t, err)

	s := New(nil, map[string]*rope.Encoder{"layer.0": static, "layer.1": adaptive})
	s.newID = func() string { return "req-1" }
	e := echo.New()
	s.Register(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListLayers(t *testing.T) {
	e := newTestEcho(t)
	rec := do(t, e, http.MethodGet, "/v1/layers", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out LayerList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Layers, 2)
	assert.Equal(t, "layer.0", out.Layers[0].Name)
	assert.Equal(t, "base", out.Layers[0].Kind)
	assert.Equal(t, 32, out.Layers[0].Cache.CachedLength)
	assert.Equal(t, "adaptive-ntk", out.Layers[1].Kind)
	assert.Equal(t, 0, out.Layers[1].Cache.CachedLength)
}

func TestGetLayerNotFound(t *testing.T) {
	e := newTestEcho(t)
	rec := do(t, e, http.MethodGet, "/v1/layers/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found_error")
}

func TestApplyAdaptivePrefill(t *testing.T) {
	e := newTestEcho(t)
	body := `{"positions":[0,1,0,1,2],"query":[1,0,1,0, 1,0,1,0, 1,0,1,0, 1,0,1,0, 1,0,1,0],"key":[0,1,0,1, 0,1,0,1, 0,1,0,1, 0,1,0,1, 0,1,0,1],"prompt_lens":[2,3]}`
	rec := do(t, e, http.MethodPost, "/v1/layers/layer.1/apply", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	var out ApplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "req-1", out.ID)
	require.Len(t, out.Query, 20)
	require.Len(t, out.Key, 20)
	// Position 0 is the identity rotation.
	assert.Equal(t, []float32{1, 0, 1, 0}, out.Query[:4])
	assert.Equal(t, 16, out.Cache.CachedLength)
	assert.Equal(t, 1.0, out.Cache.Alpha)
}

func TestApplyDecode(t *testing.T) {
	e := newTestEcho(t)
	body := `{"positions":[19],"query":[1,0,1,0],"key":[1,0,1,0],"context_lens":[20]}`
	rec := do(t, e, http.MethodPost, "/v1/layers/layer.1/apply", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ApplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 7.0, out.Cache.Alpha)
	assert.Equal(t, 40, out.Cache.CachedLength)
}

func TestApplyErrors(t *testing.T) {
	e := newTestEcho(t)
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"bad json", "/v1/layers/layer.0/apply", `{`, http.StatusBadRequest},
		{"unknown layer", "/v1/layers/nope/apply", `{}`, http.StatusNotFound},
		{"ambiguous metadata", "/v1/layers/layer.0/apply", `{"positions":[0],"query":[1,0,1,0],"key":[1,0,1,0],"prompt_lens":[1],"context_lens":[1]}`, http.StatusBadRequest},
		{"missing metadata", "/v1/layers/layer.0/apply", `{"positions":[0],"query":[1,0,1,0],"key":[1,0,1,0]}`, http.StatusBadRequest},
		{"out of range", "/v1/layers/layer.0/apply", `{"positions":[32],"query":[1,0,1,0],"key":[1,0,1,0],"prompt_lens":[1]}`, http.StatusBadRequest},
		{"shape mismatch", "/v1/layers/layer.0/apply", `{"positions":[0],"query":[1,0,1],"key":[1,0,1,0],"prompt_lens":[1]}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, e, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAlphaEndpoint(t *testing.T) {
	e := newTestEcho(t)
	rec := do(t, e, http.MethodGet, "/v1/alpha?true_len=32768&reference_length=8192", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out AlphaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 7.0, out.Alpha)

	rec = do(t, e, http.MethodGet, "/v1/alpha?true_len=x&reference_length=8192", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
