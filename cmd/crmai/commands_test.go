package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with canned JSON. A response
// prefixed with "!" is sent with status 500.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			if strings.HasPrefix(resp, "!") {
				w.WriteHeader(http.StatusInternalServerError)
				resp = resp[1:]
			}
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"detail":"Not Found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(token string) *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      token,
		httpClient: ts.server.Client(),
	}
}

// captureOutput redirects command output to buffers for the duration of the test.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr, prevColor := stdout, stderr, noColor
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = prevOut, prevErr, prevColor })
	return out, errOut
}

var testCtx = context.Background()

func TestTrainCommand(t *testing.T) {
	_, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /train": `{"status":"model training completed","contracts_used":6,"trained":true}`,
	})

	if err := runTrain(testCtx, ts.client("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut.String(), "Model trained on 6 contracts") {
		t.Errorf("output = %q", errOut.String())
	}
	if ts.requests[0].Method != "POST" || ts.requests[0].Path != "/train" {
		t.Errorf("request = %+v", ts.requests[0])
	}
}

func TestTrainCommand_Insufficient(t *testing.T) {
	_, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /train": `{"status":"model training completed","contracts_used":3,"trained":false}`,
	})

	if err := runTrain(testCtx, ts.client("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut.String(), "Only 3 contracts available") {
		t.Errorf("output = %q", errOut.String())
	}
}

func TestTrainCommand_ServerError(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /train": `!{"detail":"fetching training contracts: connection refused"}`,
	})

	err := runTrain(testCtx, ts.client(""))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "500: fetching training contracts: connection refused") {
		t.Errorf("error = %v", err)
	}
}

func TestPredictCommand_Trained(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /predict-renewal": `{"will_renew":true,"confidence":0.86,"action":"loyal client, offer premium upgrade"}`,
	})

	if err := runPredict(testCtx, ts.client(""), 42, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Body != `{"contract_id":42}` {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
	got := out.String()
	for _, want := range []string{"Contract #42: likely to renew", "confidence: 86%", "offer premium upgrade"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPredictCommand_Untrained(t *testing.T) {
	out, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /predict-renewal": `{"prediction":"insufficient data","confidence":0,"action":"collect more data"}`,
	})

	if err := runPredict(testCtx, ts.client(""), 7, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected stdout: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "insufficient data (collect more data)") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestPredictCommand_JSON(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /predict-renewal": `{"will_renew":false,"confidence":0.3,"action":"high risk, urgent action"}`,
	})

	if err := runPredict(testCtx, ts.client(""), 1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), `"will_renew": false`) {
		t.Errorf("output = %s", out.String())
	}
}

func TestChatCommand(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"response":"Vous avez 3 clients."}`,
	})

	if err := runChat(testCtx, ts.client("tok"), "Combien de clients ?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "Vous avez 3 clients." {
		t.Errorf("output = %q", out.String())
	}
	if ts.requests[0].Auth != "Bearer tok" {
		t.Errorf("Authorization = %q", ts.requests[0].Auth)
	}
	if ts.requests[0].Body != `{"message":"Combien de clients ?"}` {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{"POST /chat": `{"response":"ok"}`})

	if err := runChat(testCtx, ts.client(""), "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("Authorization = %q, want none", ts.requests[0].Auth)
	}
}

func TestInteractionsList(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /interactions": `[
			{"id":"0123456789abcdef","created_at":"2026-03-01T09:00:00Z","question":"How many clients?","status":"completed"},
			{"id":"fedcba9876543210","created_at":"2026-03-01T08:00:00Z","question":"Revenue?","status":"backend_error"}
		]`,
	})

	if err := listInteractions(testCtx, ts.client(""), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/interactions?limit=5" {
		t.Errorf("path = %s", ts.requests[0].Path)
	}
	got := out.String()
	if !strings.Contains(got, "01234567  2026-03-01T09:00:00Z  How many clients?") {
		t.Errorf("output = %s", got)
	}
	if !strings.Contains(got, "[backend_error]") {
		t.Errorf("failed interaction not flagged: %s", got)
	}
}

func TestInteractionsList_Empty(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{"GET /interactions": `[]`})

	if err := listInteractions(testCtx, ts.client(""), 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No interactions found.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestTrainingRunsList(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /training-runs": `[
			{"created_at":"2026-03-01T10:00:00Z","source":"scheduler","contracts_used":0,"trained":false,"error":"backend down"},
			{"created_at":"2026-03-01T09:00:00Z","source":"api","contracts_used":4,"trained":false},
			{"created_at":"2026-03-01T08:00:00Z","source":"cli","contracts_used":12,"trained":true}
		]`,
	})

	if err := listTrainingRuns(testCtx, ts.client(""), 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"failed: backend down", "skipped", "trained"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, nil)

	resp, err := ts.client("").get(testCtx, "/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "404: Not Found") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_ServerDown(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.client("")
	ts.server.Close()

	_, err := c.get(testCtx, "/health")
	if err == nil || !strings.Contains(err.Error(), "is crmai running?") {
		t.Errorf("error = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 10); got != "héllo" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate long = %q", got)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error", ""} {
		setupLogging(level)
	}
}
