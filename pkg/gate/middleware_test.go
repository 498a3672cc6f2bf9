package gate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/csp"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/route"
)

func TestMiddleware_AllowForwardsNonce(t *testing.T) {
	h := newHarness(t)
	rbac.SeedUser(t, h.db, "emp", "e@example.com", rbac.UserTypeEmployee)
	g := h.gate(t)

	var (
		headerNonce, ctxNonce, userID string
		rt                            route.Route
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerNonce = r.Header.Get(csp.NonceHeader)
		ctxNonce = contextkeys.GetNonce(r.Context())
		userID = contextkeys.GetUserID(r.Context())
		rt, _ = r.Context().Value(contextkeys.RouteKey).(route.Route)
		w.WriteHeader(http.StatusOK)
	})

	req := h.request(t, "/products", "emp", "")
	req.Header.Set(csp.NonceHeader, "attacker-chosen")
	rr := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEqual(t, "attacker-chosen", headerNonce)
	assert.Equal(t, headerNonce, ctxNonce)
	assert.Equal(t, "emp", userID)
	assert.Equal(t, route.KindInternal, rt.Kind)
	assert.Contains(t, rr.Header().Get(csp.HeaderEnforce), "'nonce-"+headerNonce+"'")
	assert.Equal(t, "attacker-chosen", req.Header.Get(csp.NonceHeader), "the caller's request is not mutated")
}

func TestMiddleware_Redirect(t *testing.T) {
	h := newHarness(t)
	g := h.gate(t)
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	req := httptest.NewRequest("POST", "/admin/users", nil)
	rr := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t, "/login?redirect=%2Fadmin%2Fusers", rr.Header().Get("Location"))
	assert.Contains(t, rr.Header().Get(csp.HeaderEnforce), "'nonce-")
}

func TestMiddleware_RejectBody(t *testing.T) {
	h := newHarness(t)
	h.deps.CronSecret = ""
	g := h.gate(t)

	req := httptest.NewRequest("GET", "/api/cron/nightly", nil)
	rr := httptest.NewRecorder()
	g.Middleware(http.NotFoundHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "misconfigured")
	assert.Empty(t, rr.Header().Get(csp.HeaderEnforce), "rejections carry no CSP")
}

func TestMiddleware_TraversalNeverReachesUpstream(t *testing.T) {
	h := newHarness(t)
	g := h.gate(t)

	var upstreamHits int
	srv := httptest.NewServer(g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
	})))
	defer srv.Close()

	// Raw request line so no client normalizes the path first
	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprint(conn, "GET /static/../admin/users HTTP/1.1\r\nHost: gatehouse\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, upstreamHits)
}
