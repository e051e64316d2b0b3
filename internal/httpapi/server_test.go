package httpapi_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/finch-ai/finch/internal/brokerage"
	"github.com/finch-ai/finch/internal/composer"
	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/httpapi"
	"github.com/finch-ai/finch/internal/orchestrator"
)

const testWSTimeout = 5 * time.Second

// fakeAsker is a scriptable orchestrator double.
type fakeAsker struct {
	answer    string
	askErr    error
	chunks    []composer.Chunk
	streamErr error

	cleared []string
	reset   bool
	stats   orchestrator.Snapshot
}

func (f *fakeAsker) Ask(ctx context.Context, userID, query string) (string, error) {
	if f.askErr != nil {
		return "", f.askErr
	}
	return f.answer, nil
}

func (f *fakeAsker) AskStream(ctx context.Context, userID, query string) (<-chan composer.Chunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan composer.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeAsker) MemorySummary(userID string) string { return "2 turns remembered" }
func (f *fakeAsker) ClearMemory(userID string)          { f.cleared = append(f.cleared, userID) }
func (f *fakeAsker) Stats() orchestrator.Snapshot       { return f.stats }
func (f *fakeAsker) ResetStats()                        { f.reset = true }

// fakeSessions is a scriptable session manager double.
type fakeSessions struct {
	state       brokerage.State
	loginURL    string
	startErr    error
	completeErr error
	validateErr error
	logoutErr   error
}

func (f *fakeSessions) State(ctx context.Context, userID string) (brokerage.State, error) {
	return f.state, nil
}

func (f *fakeSessions) StartLogin(ctx context.Context, userID string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.loginURL, nil
}

func (f *fakeSessions) CompleteLogin(ctx context.Context, userID string) error {
	return f.completeErr
}

func (f *fakeSessions) Validate(ctx context.Context, userID string) error {
	return f.validateErr
}

func (f *fakeSessions) Logout(ctx context.Context, userID string) error {
	return f.logoutErr
}

func newTestServer(t *testing.T, orch httpapi.Asker, sessions httpapi.SessionManager) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(httpapi.NewServer(orch, sessions).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(b)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestQuerySync(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{answer: "TCS trades at ₹4,012.50."}, nil)

	resp := postJSON(t, srv.URL+"/v1/query/sync",
		map[string]string{"user_id": "alice", "query": "tcs price?"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Answer    string `json:"answer"`
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body.Answer, "4,012.50") {
		t.Errorf("answer = %q", body.Answer)
	}
	if body.RequestID == "" {
		t.Error("missing request id")
	}
}

func TestQuerySyncErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", fmt.Errorf("bad: %w", fault.ErrValidation), http.StatusBadRequest},
		{"auth", fmt.Errorf("no session: %w", fault.ErrAuthRequired), http.StatusUnauthorized},
		{"rate limited", &fault.RateLimitError{}, http.StatusTooManyRequests},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakeAsker{askErr: tt.err}, nil)
			resp := postJSON(t, srv.URL+"/v1/query/sync",
				map[string]string{"user_id": "alice", "query": "q"})
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestQuerySyncRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{answer: "ok"}, nil)
	resp := postJSON(t, srv.URL+"/v1/query/sync",
		map[string]string{"user_id": "alice", "query": "q", "mode": "fast"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQueryStreamSSE(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{chunks: []composer.Chunk{
		{Content: "TCS trades "},
		{Content: "at ₹4,012.50."},
		{Done: true},
	}}, nil)

	resp := postJSON(t, srv.URL+"/v1/query/stream",
		map[string]string{"user_id": "alice", "query": "tcs price?"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %v", len(frames), frames)
	}

	var last struct {
		Done bool `json:"done"`
	}
	if err := json.Unmarshal([]byte(frames[len(frames)-1]), &last); err != nil {
		t.Fatalf("decode last frame: %v", err)
	}
	if !last.Done {
		t.Error("last frame should be the done frame")
	}
}

func TestQueryWS(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{chunks: []composer.Chunk{
		{Content: "Hello "},
		{Content: "there."},
		{Done: true},
	}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testWSTimeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/query/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, map[string]string{
		"user_id": "alice", "query": "hi",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var text strings.Builder
	for {
		var frame struct {
			Content string `json:"content"`
			Done    bool   `json:"done"`
			Error   string `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read: %v (so far %q)", err, text.String())
		}
		if frame.Error != "" {
			t.Fatalf("unexpected error frame: %q", frame.Error)
		}
		if frame.Done {
			break
		}
		text.WriteString(frame.Content)
	}
	if text.String() != "Hello there." {
		t.Errorf("streamed text = %q", text.String())
	}
}

func TestMemoryEndpoints(t *testing.T) {
	t.Parallel()

	orch := &fakeAsker{}
	srv := newTestServer(t, orch, nil)

	resp, err := http.Get(srv.URL + "/v1/memory?user_id=alice")
	if err != nil {
		t.Fatalf("GET memory: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["summary"] == "" {
		t.Error("missing summary")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/memory?user_id=alice", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE memory: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}
	if len(orch.cleared) != 1 || orch.cleared[0] != "alice" {
		t.Errorf("cleared = %v", orch.cleared)
	}
}

func TestMemoryRequiresUser(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{}, nil)
	resp, err := http.Get(srv.URL + "/v1/memory")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{
		state:    brokerage.StatePendingLogin,
		loginURL: "https://broker.example.com/login/abc",
	}
	srv := newTestServer(t, &fakeAsker{}, sessions)

	resp := postJSON(t, srv.URL+"/v1/session/login", map[string]string{"user_id": "alice"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["login_url"] != sessions.loginURL {
		t.Errorf("login_url = %q", body["login_url"])
	}

	stateResp, err := http.Get(srv.URL + "/v1/session?user_id=alice")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer stateResp.Body.Close()
	var stateBody map[string]string
	if err := json.NewDecoder(stateResp.Body).Decode(&stateBody); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if stateBody["state"] != "PENDING_LOGIN" {
		t.Errorf("state = %q", stateBody["state"])
	}

	completeResp := postJSON(t, srv.URL+"/v1/session/complete", map[string]string{"user_id": "alice"})
	defer completeResp.Body.Close()
	if completeResp.StatusCode != http.StatusOK {
		t.Errorf("complete status = %d", completeResp.StatusCode)
	}
}

func TestSessionValidateEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("healthy session", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &fakeAsker{}, &fakeSessions{state: brokerage.StateActive})

		resp := postJSON(t, srv.URL+"/v1/session/validate", map[string]string{"user_id": "alice"})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["state"] != "ACTIVE" {
			t.Errorf("state = %q, want ACTIVE", body["state"])
		}
	})

	t.Run("expired session maps to 401", func(t *testing.T) {
		t.Parallel()
		sessions := &fakeSessions{validateErr: fmt.Errorf("session expired: %w", fault.ErrAuthRequired)}
		srv := newTestServer(t, &fakeAsker{}, sessions)

		resp := postJSON(t, srv.URL+"/v1/session/validate", map[string]string{"user_id": "alice"})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})
}

func TestSessionEndpointsWithoutBroker(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{}, nil)
	resp := postJSON(t, srv.URL+"/v1/session/login", map[string]string{"user_id": "alice"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStatsEndpoints(t *testing.T) {
	t.Parallel()

	orch := &fakeAsker{stats: orchestrator.Snapshot{Queries: 7}}
	srv := newTestServer(t, orch, nil)

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Stats orchestrator.Snapshot `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Queries != 7 {
		t.Errorf("queries = %d, want 7", body.Stats.Queries)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/stats", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE stats: %v", err)
	}
	delResp.Body.Close()
	if !orch.reset {
		t.Error("reset not invoked")
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{}, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAsker{}, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
