package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/scribe/internal/ingest"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	events []string
	err    error
}

func (f *fakePublisher) PublishImportCompleted(res *ingest.Result) error {
	f.events = append(f.events, res.Conversation.Conversation.ID)
	return f.err
}

type fakeLedger struct {
	records []store.ImportRecord
}

func (f *fakeLedger) RecordImport(ctx context.Context, rec store.ImportRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLedger) RecentImports(ctx context.Context, limit int) ([]store.ImportRecord, error) {
	return f.records, nil
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) bool {
	f.keys = append(f.keys, key)
	return f.allow
}

type fakeMetrics struct {
	limited int
}

func (f *fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "scribe_imports_total 0\n")
	})
}

func (f *fakeMetrics) RateLimited() { f.limited++ }

func newTestServer(opts ...Option) *Server {
	d := ingest.New(ingest.Config{}, quietLogger())
	return NewServer(8760, d, quietLogger(), opts...)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

const chatText = "Alice: hi\nBob: hello\nAlice: how are you\n"

func TestHealthEndpoint(t *testing.T) {
	w := serve(newTestServer(), httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	w := serve(newTestServer(), httptest.NewRequest("GET", "/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateImport_RawBody(t *testing.T) {
	pub := &fakePublisher{}
	ledger := &fakeLedger{}
	s := newTestServer(WithPublisher(pub), WithLedger(ledger))

	req := httptest.NewRequest("POST", "/api/v1/imports?platform=auto&filename=notes.txt", strings.NewReader(chatText))
	req.Header.Set("Content-Type", "text/plain")
	w := serve(s, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res ingest.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Conversation.Conversation.MessageCount != 3 {
		t.Errorf("expected 3 messages, got %d", res.Conversation.Conversation.MessageCount)
	}
	if len(pub.events) != 1 || pub.events[0] != res.Conversation.Conversation.ID {
		t.Errorf("expected one event for the conversation, got %v", pub.events)
	}
	if len(ledger.records) != 1 || ledger.records[0].FileName != "notes.txt" {
		t.Errorf("expected one ledger row, got %+v", ledger.records)
	}
}

func TestCreateImport_PublishFailureIsNotFatal(t *testing.T) {
	s := newTestServer(WithPublisher(&fakePublisher{err: errors.New("nats down")}))
	w := serve(s, httptest.NewRequest("POST", "/api/v1/imports", strings.NewReader(chatText)))
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
}

func TestCreateImport_Multipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("platform", "telegram")
	fw, _ := mw.CreateFormFile("file", "result.json")
	io.WriteString(fw, `{"name":"Chat","messages":[{"id":1,"type":"message","date":"2024-01-05T10:00:00","from":"Alice","from_id":"u1","text":"hi"}]}`)
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(newTestServer(), req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res ingest.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Report.Platform != "telegram" || res.Conversation.Conversation.Title != "Chat" {
		t.Errorf("unexpected result %+v", res.Report)
	}
}

func TestCreateImport_MultipartWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("platform", "telegram")
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w := serve(newTestServer(), req); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreateImport_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"unsupported platform", "/api/v1/imports?platform=myspace", "hello", http.StatusUnprocessableEntity, "UNSUPPORTED_PLATFORM"},
		{"empty body", "/api/v1/imports", "   ", http.StatusUnprocessableEntity, "EMPTY_CONTENT"},
		{"structural mismatch", "/api/v1/imports?platform=telegram", `{"chats":[]}`, http.StatusUnprocessableEntity, "STRUCTURAL_MISMATCH"},
		{"parse failure", "/api/v1/imports?platform=telegram", `{"messages":[{"id":1}`, http.StatusBadRequest, "PARSE_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newTestServer(), httptest.NewRequest("POST", tt.target, strings.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			var body errorBody
			json.NewDecoder(w.Body).Decode(&body)
			if body.Code != tt.code {
				t.Errorf("expected code %s, got %q", tt.code, body.Code)
			}
		})
	}
}

func TestCreateImport_TooLarge(t *testing.T) {
	s := newTestServer(WithMaxUploadBytes(16))
	w := serve(s, httptest.NewRequest("POST", "/api/v1/imports?platform=generic", strings.NewReader(strings.Repeat("Alice: hi\n", 10))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDetectEndpoint(t *testing.T) {
	body := "05/01/2024, 10:00 - Alice: hi\n05/01/2024, 10:01 - Bob: hello\n"
	req := httptest.NewRequest("POST", "/api/v1/detect?filename=WhatsApp%20Chat.txt", strings.NewReader(body))
	w := serve(newTestServer(), req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res struct {
		Platform   string  `json:"platform"`
		Confidence float64 `json:"confidence"`
	}
	json.NewDecoder(w.Body).Decode(&res)
	if res.Platform != "whatsapp" || res.Confidence < 0.3 {
		t.Errorf("unexpected detection %+v", res)
	}
}

func TestListImports(t *testing.T) {
	ledger := &fakeLedger{}
	s := newTestServer(WithLedger(ledger))

	w := serve(s, httptest.NewRequest("GET", "/api/v1/imports", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"imports":[]`) {
		t.Errorf("expected an empty list, got %d %s", w.Code, w.Body.String())
	}

	if w := serve(newTestServer(), httptest.NewRequest("GET", "/api/v1/imports", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("listing without a ledger should not be routed, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(WithAPIToken("secret"))

	if w := serve(s, httptest.NewRequest("POST", "/api/v1/detect", strings.NewReader("x"))); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/detect", strings.NewReader("x"))
	req.Header.Set("Authorization", "Bearer wrong")
	if w := serve(s, req); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/detect", strings.NewReader("x"))
	req.Header.Set("Authorization", "Bearer secret")
	if w := serve(s, req); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}

	if w := serve(s, httptest.NewRequest("GET", "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	lim := &fakeLimiter{allow: false}
	m := &fakeMetrics{}
	s := newTestServer(WithRateLimiter(lim), WithMetrics(m))

	req := httptest.NewRequest("POST", "/api/v1/detect", strings.NewReader("x"))
	req.RemoteAddr = "10.1.2.3:5555"
	w := serve(s, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if len(lim.keys) != 1 || lim.keys[0] != "10.1.2.3" {
		t.Errorf("expected the limiter to be keyed by ip, got %v", lim.keys)
	}
	if m.limited != 1 {
		t.Errorf("expected one rate-limited count, got %d", m.limited)
	}

	if w := serve(s, httptest.NewRequest("GET", "/metrics", nil)); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "scribe_imports_total") {
		t.Errorf("metrics should bypass the limiter, got %d", w.Code)
	}
}

type mockRedisEvaler struct {
	lastKeys []string
	lastArgs []interface{}
	result   int64
	err      error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisLimiterAllow(t *testing.T) {
	t.Run("nil limiter fails open", func(t *testing.T) {
		var l *RedisLimiter
		if !l.Allow(context.Background(), "1.2.3.4") {
			t.Fatal("expected fail-open for nil limiter")
		}
	})

	t.Run("within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 3}
		l := &RedisLimiter{client: mock, window: 2 * time.Minute, max: 3, prefix: "scribe:rl:"}
		if !l.Allow(context.Background(), " 1.2.3.4 ") {
			t.Fatal("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "scribe:rl:1.2.3.4" {
			t.Errorf("unexpected key %v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != 120 {
			t.Errorf("expected ttl 120, got %v", mock.lastArgs)
		}
	})

	t.Run("over max", func(t *testing.T) {
		l := &RedisLimiter{client: &mockRedisEvaler{result: 4}, window: time.Minute, max: 3}
		if l.Allow(context.Background(), "1.2.3.4") {
			t.Fatal("expected deny when count > max")
		}
	})

	t.Run("redis error fails open", func(t *testing.T) {
		l := &RedisLimiter{client: &mockRedisEvaler{err: errors.New("conn refused")}, window: time.Minute, max: 1}
		if !l.Allow(context.Background(), "1.2.3.4") {
			t.Fatal("expected fail-open on redis error")
		}
	})
}

func TestNewRedisLimiter_NilClient(t *testing.T) {
	if NewRedisLimiter(nil, time.Minute, 10) != nil {
		t.Error("expected nil limiter for nil client")
	}
}
