package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/config"
	"github.com/broadcastio/wagateway/pkg/delivery"
	"github.com/broadcastio/wagateway/pkg/send"
	"github.com/broadcastio/wagateway/pkg/session"
	"github.com/broadcastio/wagateway/pkg/whatsapp"
)

type fakeClient struct {
	mu     sync.Mutex
	texts  []string
	medias []string
	err    error
}

func (f *fakeClient) SendText(ctx context.Context, address, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, address+"|"+text)
	if f.err != nil {
		return "", f.err
	}
	return "3EB0TEXT", nil
}

func (f *fakeClient) SendMedia(ctx context.Context, address string, media *whatsapp.Media, opts whatsapp.MediaOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.medias = append(f.medias, address+"|"+media.Filename+"|"+opts.Caption)
	if f.err != nil {
		return "", f.err
	}
	return "3EB0MEDIA", nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + len(f.medias)
}

type harness struct {
	server  *Server
	http    *httptest.Server
	manager *session.Manager
	client  *fakeClient
	store   *delivery.Store
	bus     *bus.MessageBus
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	mb := bus.NewMessageBus()
	mgr := session.NewManager(nil, mb)
	client := &fakeClient{}
	store, err := delivery.Open(filepath.Join(t.TempDir(), "deliveries.db"))
	require.NoError(t, err)

	pipeline := send.NewPipeline(mgr, client, send.Options{
		Timeout:  cfg.WhatsApp.SendTimeout,
		Recorder: store,
		Bus:      mb,
	})

	srv := NewServer(cfg, mgr, pipeline, store, mb)
	ctx, cancel := context.WithCancel(context.Background())
	srv.startFeed(ctx)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		store.Close()
	})

	return &harness{server: srv, http: ts, manager: mgr, client: client, store: store, bus: mb}
}

func (h *harness) ready() {
	h.manager.Apply(whatsapp.Event{Type: whatsapp.EventReady})
}

func (h *harness) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (h *harness) post(t *testing.T, body string) (int, map[string]interface{}) {
	return h.do(t, http.MethodPost, "/send", body, nil)
}

func TestSendTextWhenReady(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()

	status, body := h.post(t, `{"recipient":"15551234567","content":"hello"}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]interface{}{
		"success":    true,
		"provider":   "whatsapp",
		"message_id": "3EB0TEXT",
	}, body)
	assert.Equal(t, []string{"15551234567@c.us|hello"}, h.client.texts)
}

func TestSendWhenNotReady(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.post(t, `{"recipient":"15551234567","content":"hello"}`)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, map[string]interface{}{
		"success": false,
		"error":   "WhatsApp client not ready",
	}, body)
	assert.Zero(t, h.client.calls())
}

func TestSendMissingFields(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()

	for _, payload := range []string{
		`{"recipient":"15551234567"}`,
		`{"content":"hi"}`,
		`{"recipient":"","content":"hi"}`,
		`{"recipient":true,"content":"hi"}`,
		`{}`,
		``,
	} {
		status, body := h.post(t, payload)
		assert.Equal(t, http.StatusBadRequest, status, payload)
		assert.Equal(t, map[string]interface{}{
			"success": false,
			"error":   "recipient and content are required",
		}, body, payload)
	}
	assert.Zero(t, h.client.calls())
}

func TestSendInvalidAttachment(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()

	tests := []struct {
		name    string
		payload string
		details string
	}{
		{"missing file", `{"recipient":"1","content":"x","attachment":{"path":"/no/such.pdf"}}`, "attachment not found: /no/such.pdf"},
		{"path absent", `{"recipient":"1","content":"x","attachment":{}}`, "attachment.path is required"},
		{"path not a string", `{"recipient":"1","content":"x","attachment":{"path":42}}`, "attachment.path is required"},
		{"attachment not an object", `{"recipient":"1","content":"x","attachment":"file.pdf"}`, "attachment.path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.post(t, tt.payload)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, map[string]interface{}{
				"code":    "INVALID_ATTACHMENT",
				"message": "attachment.path is required",
				"details": tt.details,
			}, body["error"])
		})
	}
	assert.Zero(t, h.client.calls())
}

func TestSendForcedFailure(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.post(t, `{"recipient":"1","content":"x","metadata":{"reference_id":"FORCE_LOGICAL_FAIL"}}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    "WHATSAPP_REJECTED",
			"message": "Forced logical failure for testing",
		},
	}, body)
	assert.Zero(t, h.client.calls())
}

func TestSendMediaWithCaption(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0644))

	payload, _ := json.Marshal(map[string]interface{}{
		"recipient":  "15551234567@c.us",
		"content":    "look",
		"attachment": map[string]string{"path": path},
	})
	status, body := h.post(t, string(payload))

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "3EB0MEDIA", body["message_id"])
	assert.Equal(t, []string{"15551234567@c.us|photo.jpg|look"}, h.client.medias)
}

func TestSendNullAttachmentIsText(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()

	status, _ := h.post(t, `{"recipient":15551234567,"content":"hi","attachment":null}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"15551234567@c.us|hi"}, h.client.texts)
}

func TestSendFalsyAttachmentIsText(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()

	for _, att := range []string{`null`, `false`, `0`, `""`} {
		status, body := h.post(t, `{"recipient":"1555","content":"hi","attachment":`+att+`}`)
		assert.Equal(t, http.StatusOK, status, att)
		assert.Equal(t, "3EB0TEXT", body["message_id"], att)
	}
	assert.Len(t, h.client.texts, 4)
	assert.Empty(t, h.client.medias)
}

func TestStatusReportsUnhealthyDeliveryLog(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Close())

	status, body := h.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, status)

	deliveries := body["deliveries"].(map[string]interface{})
	assert.Equal(t, false, deliveries["healthy"])
	assert.NotEmpty(t, deliveries["error"])
}

func TestSendDispatchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()
	h.client.err = &whatsapp.SendError{Message: "chat not found"}

	status, body := h.post(t, `{"recipient":"1","content":"x"}`)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "chat not found"}, body)
}

func TestSendMalformedJSON(t *testing.T) {
	h := newHarness(t, nil)
	status, body := h.post(t, `{"recipient":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestSendRejectsGet(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.http.URL + "/send")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthTracksSession(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "whatsapp", body["provider"])
	assert.Equal(t, false, body["ready"])
	ts, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)

	h.ready()
	_, body = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, true, body["ready"])

	h.manager.Apply(whatsapp.Event{Type: whatsapp.EventDisconnected, Reason: "LOGOUT"})
	status, body = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["ready"])
}

func TestStatusReportsSessionAndDeliveries(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()
	h.post(t, `{"recipient":"1","content":"x"}`)
	h.post(t, `{"recipient":"1"}`)

	status, body := h.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, status)

	sess := body["session"].(map[string]interface{})
	assert.Equal(t, "ready", sess["state"])
	assert.Equal(t, true, sess["ready"])

	deliveries := body["deliveries"].(map[string]interface{})
	assert.Equal(t, true, deliveries["healthy"])
	assert.Equal(t, float64(2), deliveries["total"])
	assert.Equal(t, float64(1), deliveries["failed"])
}

func TestDeliveriesEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.ready()
	h.post(t, `{"recipient":"1","content":"a","metadata":{"reference_id":"order-9"}}`)
	h.post(t, `{"recipient":"2","content":"b"}`)

	resp, err := http.Get(h.http.URL + "/deliveries?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []delivery.Delivery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "2", list[0].Recipient)

	resp2, err := http.Get(h.http.URL + "/deliveries?reference_id=order-9")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "3EB0TEXT", list[0].MessageID)

	status, _ := h.do(t, http.MethodGet, "/deliveries?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIKeyAuth(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Gateway.APIKey = "s3cret" })
	h.ready()
	payload := `{"recipient":"1","content":"x"}`

	status, _ := h.do(t, http.MethodPost, "/send", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/send", payload, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/send", payload, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodPost, "/send", payload, map[string]string{"X-API-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCORS(t *testing.T) {
	t.Run("wildcard by default", func(t *testing.T) {
		h := newHarness(t, nil)
		req, _ := http.NewRequest(http.MethodOptions, h.http.URL+"/send", nil)
		req.Header.Set("Origin", "https://crm.example")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("configured origins", func(t *testing.T) {
		h := newHarness(t, func(c *config.Config) {
			c.Gateway.AllowedOrigins = []string{"https://crm.example"}
		})
		for origin, want := range map[string]string{
			"https://crm.example":  "https://crm.example",
			"https://evil.example": "",
		} {
			req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/health", nil)
			req.Header.Set("Origin", origin)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, want, resp.Header.Get("Access-Control-Allow-Origin"), origin)
		}
	})
}

func TestWebSocketFeed(t *testing.T) {
	h := newHarness(t, nil)
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first WSEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "initial_state", first.Type)
	assert.Equal(t, "uninitialized", first.Data.(map[string]interface{})["state"])

	h.ready()
	h.post(t, `{"recipient":"1","content":"hello feed"}`)

	seen := map[string]bool{}
	for !(seen["session.ready"] && seen["message.outbound"]) {
		var ev WSEvent
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Type] = true
	}
}

func TestWriteOutcomeUnknown(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOutcome(rec, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"abc"`, "abc"},
		{`15551234567`, "15551234567"},
		{`null`, ""},
		{`true`, ""},
		{`{"a":1}`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scalarString(json.RawMessage(tt.raw)), tt.raw)
	}
}

func TestIsPresent(t *testing.T) {
	for raw, want := range map[string]bool{
		``:                  false,
		`null`:              false,
		`false`:             false,
		`0`:                 false,
		`""`:                false,
		`{}`:                true,
		`{"path":"/a.pdf"}`: true,
		`"file.pdf"`:        true,
		`1`:                 true,
		`true`:              true,
	} {
		assert.Equal(t, want, isPresent(json.RawMessage(raw)), raw)
	}
}
