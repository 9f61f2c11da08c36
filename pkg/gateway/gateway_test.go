package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/delivery"
	"github.com/DeBrosOfficial/subchannel/pkg/subscription"
	"github.com/DeBrosOfficial/subchannel/pkg/transport"
)

type testEnv struct {
	gw       *Gateway
	srv      *httptest.Server
	hub      *delivery.Hub
	registry *channel.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := subscription.OpenSQLStore(ctx, config.StoreConfig{Driver: config.DriverSQLite3, DSN: ":memory:"}, nil)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	hub := delivery.NewHub(time.Second, nil)
	reg, err := channel.NewRegistry(cfg.Registry,
		&transport.MemoryFactory{BufferSize: 16},
		delivery.NewFactory(cfg.Delivery, hub, nil),
		nil)
	require.NoError(t, err)
	svc := subscription.NewService(store, reg, subscription.NameFactory{Prefix: cfg.Registry.ChannelPrefix}, nil)

	gw := New(cfg.HTTPGateway, "node-test", svc, hub, nil)
	srv := httptest.NewServer(gw.Router())

	t.Cleanup(func() {
		srv.Close()
		_ = reg.Close(context.Background())
		_ = store.Close()
	})
	return &testEnv{gw: gw, srv: srv, hub: hub, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "node-test", body["node"])
	require.Equal(t, true, body["delivery_enabled"])
}

func TestSubscriptionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp, created := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"channel_type": "rest-hook",
		"endpoint":     "http://127.0.0.1:1/hook",
		"criteria":     "Patient?name=smith",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "subscription-delivery-rest-hook", created["channel_name"])

	resp, list := env.do(t, http.MethodGet, "/v1/channels", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, list["count"])

	resp, stats := env.do(t, http.MethodGet, "/v1/channels/subscription-delivery-rest-hook", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, stats["references"])
	require.EqualValues(t, 1, stats["handlers"])

	resp, updated := env.do(t, http.MethodPut, "/v1/subscriptions/"+id, map[string]any{
		"channel_type": "rest-hook",
		"endpoint":     "http://127.0.0.1:1/hook",
		"routing_key":  "lab",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "subscription-delivery-rest-hook.lab", updated["channel_name"])

	resp, _ = env.do(t, http.MethodGet, "/v1/channels/subscription-delivery-rest-hook", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 0, env.registry.Size())

	resp, errBody := env.do(t, http.MethodGet, "/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", errBody["code"])
}

func TestCreateSubscriptionValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"channel_type": "fax",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_ERROR", body["code"])

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/subscriptions", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestPublishAndDisable(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/channels/missing/publish", map[string]any{"payload_base64": ""})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{"channel_type": "message"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/channels/subscription-delivery-message/publish", map[string]any{
		"payload_base64": base64.StdEncoding.EncodeToString([]byte("hi")),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["sent"])

	resp, body = env.do(t, http.MethodPost, "/v1/channels/subscription-delivery-message/publish", map[string]any{
		"payload_base64": "not base64!",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_ERROR", body["code"])

	resp, _ = env.do(t, http.MethodPut, "/v1/registry/enabled", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, env.registry.Enabled())

	resp, body = env.do(t, http.MethodPost, "/v1/channels/subscription-delivery-message/publish", map[string]any{"payload_base64": ""})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "DELIVERY_DISABLED", body["code"])

	resp, _ = env.do(t, http.MethodPut, "/v1/registry/enabled", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocketDelivery(t *testing.T) {
	env := newTestEnv(t)

	resp, created := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{"channel_type": "websocket"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/subscriptions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Count(id) == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, _ = env.do(t, http.MethodPost, "/v1/subscriptions/"+id+"/notify", map[string]any{
		"payload_base64": base64.StdEncoding.EncodeToString([]byte(`{"resourceType":"Encounter"}`)),
		"content_type":   "application/fhir+json",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env2 delivery.Envelope
	require.NoError(t, json.Unmarshal(frame, &env2))
	require.Equal(t, id, env2.SubscriptionID)
	data, err := base64.StdEncoding.DecodeString(env2.Data)
	require.NoError(t, err)
	require.Equal(t, `{"resourceType":"Encounter"}`, string(data))

	// A non-websocket subscription cannot be attached.
	resp, _ = env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{"id": "plain", "channel_type": "message"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_, wsResp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/v1/subscriptions/plain/ws", nil)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	require.Equal(t, http.StatusBadRequest, wsResp.StatusCode)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	if got := getClientIP(r); got != "10.0.0.5" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("X-Real-IP", "10.0.0.6")
	if got := getClientIP(r); got != "10.0.0.6" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := getClientIP(r); got != "1.2.3.4" {
		t.Fatalf("got %q", got)
	}
}
