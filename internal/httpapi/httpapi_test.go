package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/buffer"
	"github.com/lakesync/lakesync/internal/gateway"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/objectstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testSecret = "unit-test-secret"

func signToken(t *testing.T, gatewayID, clientID string, role Role) string {
	t.Helper()

	claims := Claims{
		ClientID:  clientID,
		GatewayID: gatewayID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return s
}

func newTestServer(t *testing.T) (*Server, *gateway.Gateway) {
	t.Helper()

	clock := hlc.New(&fixedWall{ms: 1000})
	store := objectstore.NewMemoryStore()

	gw := gateway.New(gateway.Config{
		GatewayID:        "gw1",
		ConsistencyMode:  buffer.Eventual,
		FlushFormat:      gateway.FlushJSON,
		StorePrefix:      "lake",
		ExcludeOwnClient: true,
	}, clock, nil, store, testLogger())

	registry := NewRegistry()
	registry.Register("gw1", gw, []byte(testSecret))

	return NewServer(registry, testLogger()), gw
}

type fixedWall struct{ ms int64 }

func (f *fixedWall) NowMS() int64 { return f.ms }

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestPushRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sync/gw1/push", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPushRejectsWrongRole(t *testing.T) {
	s, _ := newTestServer(t)

	token := signToken(t, "gw1", "client-1", RoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/sync/gw1/push", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func pushBody(clientID string, deltaID string) string {
	return fmt.Sprintf(`{
		"clientId": %q,
		"deltas": [{
			"deltaId": %q,
			"op": "INSERT",
			"table": "todos",
			"rowId": "r1",
			"clientId": %q,
			"hlc": "65536000",
			"columns": [{"column": "title", "value": {"type": "string", "s": "buy milk"}}]
		}]
	}`, clientID, deltaID, clientID)
}

func TestPushAcceptsValidRequest(t *testing.T) {
	s, _ := newTestServer(t)

	token := signToken(t, "gw1", "client-1", RoleClient)

	req := httptest.NewRequest(http.MethodPost, "/sync/gw1/push", bytes.NewBufferString(pushBody("client-1", "d1")))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body pushResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.AcceptedCount)
	assert.Empty(t, body.RejectedIDs)
}

func TestPushThenPullFromBufferRoundTrips(t *testing.T) {
	s, _ := newTestServer(t)

	clientToken := signToken(t, "gw1", "client-1", RoleClient)
	otherToken := signToken(t, "gw1", "client-2", RoleClient)

	pushReq := httptest.NewRequest(http.MethodPost, "/sync/gw1/push", bytes.NewBufferString(pushBody("client-1", "d1")))
	pushReq.Header.Set("Authorization", "Bearer "+clientToken)
	pushRec := httptest.NewRecorder()
	s.Router().ServeHTTP(pushRec, pushReq)
	require.Equal(t, http.StatusOK, pushRec.Code)

	// client-1 pulling its own writes back sees nothing: excludeOwnClient.
	selfPull := httptest.NewRequest(http.MethodGet, "/sync/gw1/pull?sinceHlc=0", nil)
	selfPull.Header.Set("Authorization", "Bearer "+clientToken)
	selfRec := httptest.NewRecorder()
	s.Router().ServeHTTP(selfRec, selfPull)
	require.Equal(t, http.StatusOK, selfRec.Code)

	var selfBody pullResponseBody
	require.NoError(t, json.Unmarshal(selfRec.Body.Bytes(), &selfBody))
	assert.False(t, selfBody.HasMore)
	assert.Equal(t, "[]", string(selfBody.Deltas))

	// client-2 pulling sees the delta client-1 pushed.
	otherPull := httptest.NewRequest(http.MethodGet, "/sync/gw1/pull?sinceHlc=0", nil)
	otherPull.Header.Set("Authorization", "Bearer "+otherToken)
	otherRec := httptest.NewRecorder()
	s.Router().ServeHTTP(otherRec, otherPull)
	require.Equal(t, http.StatusOK, otherRec.Code)

	var otherBody pullResponseBody
	require.NoError(t, json.Unmarshal(otherRec.Body.Bytes(), &otherBody))
	assert.NotEqual(t, "[]", string(otherBody.Deltas))
}

func TestAdminSchemaRequiresAdminRole(t *testing.T) {
	s, gw := newTestServer(t)

	clientToken := signToken(t, "gw1", "client-1", RoleClient)

	body := `{"table": "todos", "columns": [{"name": "title", "type": "string"}]}`

	req := httptest.NewRequest(http.MethodPost, "/admin/schema/gw1", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+clientToken)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := signToken(t, "gw1", "admin-1", RoleAdmin)

	req2 := httptest.NewRequest(http.MethodPost, "/admin/schema/gw1", bytes.NewBufferString(body))
	req2.Header.Set("Authorization", "Bearer "+adminToken)
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusNoContent, rec2.Code)

	require.NotNil(t, gw.TableSchema())
	assert.Equal(t, "todos", gw.TableSchema().Table)
}

func TestFlushEndpointReturnsObjectKey(t *testing.T) {
	s, _ := newTestServer(t)

	token := signToken(t, "gw1", "client-1", RoleClient)

	pushReq := httptest.NewRequest(http.MethodPost, "/sync/gw1/push", bytes.NewBufferString(pushBody("client-1", "d1")))
	pushReq.Header.Set("Authorization", "Bearer "+token)
	pushRec := httptest.NewRecorder()
	s.Router().ServeHTTP(pushRec, pushReq)
	require.Equal(t, http.StatusOK, pushRec.Code)

	flushReq := httptest.NewRequest(http.MethodPost, "/sync/gw1/flush", nil)
	flushReq.Header.Set("Authorization", "Bearer "+token)
	flushRec := httptest.NewRecorder()
	s.Router().ServeHTTP(flushRec, flushReq)
	require.Equal(t, http.StatusOK, flushRec.Code)

	var body flushResponseBody
	require.NoError(t, json.Unmarshal(flushRec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ObjectKey)
	assert.Equal(t, 1, body.RecordCount)
}

func TestPushRejectsWrongGatewayClaim(t *testing.T) {
	s, _ := newTestServer(t)

	token := signToken(t, "gw-other", "client-1", RoleClient)

	req := httptest.NewRequest(http.MethodPost, "/sync/gw1/push", bytes.NewBufferString(pushBody("client-1", "d1")))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownGatewayReturnsUnauthorized(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sync/ghost/pull", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWatchConnectAndCloseDoesNotHang(t *testing.T) {
	s, _ := newTestServer(t)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	// Exercised indirectly: opening and immediately closing a watch
	// connection must not panic or hang the server under the
	// panic-recoverer/request-id middleware stack.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sync/gw1/watch?token="+signToken(t, "gw1", "client-1", RoleClient), nil)
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}
