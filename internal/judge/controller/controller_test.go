package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/health"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/problem"
	"codejudge/internal/judge/sandbox/profile"
	appErr "codejudge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu        sync.Mutex
	submitted []model.Submission
	statuses  []model.SubmissionStatus
	polls     int
	cancelErr error
}

func (f *fakeService) Submit(ctx context.Context, sub model.Submission) (model.Report, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, sub)
	f.mu.Unlock()
	if len(sub.TestCases) == 0 {
		return model.Report{}, appErr.New(appErr.NoTestCases)
	}
	verdicts := make([]model.Verdict, len(sub.TestCases))
	for i := range verdicts {
		verdicts[i] = model.Verdict{TestCaseIndex: i, Passed: true}
	}
	return model.Report{SubmissionID: "s-1", Language: sub.Language, State: model.StateCompleted, Verdicts: verdicts, OverallPassed: true}, nil
}

func (f *fakeService) SubmitAsync(ctx context.Context, sub model.Submission) (string, error) {
	if sub.Language == "ruby" {
		return "", appErr.New(appErr.LanguageNotSupported)
	}
	return "async-1", nil
}

// Status replays the configured statuses, one per call, sticking on the last.
func (f *fakeService) Status(ctx context.Context, id string) (model.SubmissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "async-1" || len(f.statuses) == 0 {
		return model.SubmissionStatus{}, appErr.New(appErr.SubmissionNotFound)
	}
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return f.statuses[i], nil
}

func (f *fakeService) Cancel(ctx context.Context, id string) error {
	return f.cancelErr
}

func (f *fakeService) Run(ctx context.Context, language, source, input string) (model.ExecutionResult, error) {
	return model.ExecutionResult{Stdout: strings.ToUpper(input), TerminatedBy: model.TerminatedCompleted}, nil
}

func (f *fakeService) Languages(ctx context.Context) []profile.LanguageSpec {
	return []profile.LanguageSpec{{ID: profile.JavaScript, Name: "JavaScript"}, {ID: profile.Python, Name: "Python"}}
}

type fakeHealth struct{ snap health.Snapshot }

func (f fakeHealth) Snapshot() health.Snapshot { return f.snap }

const catalogYAML = `
problems:
  - id: reverse-string
    title: Reverse a String
    difficulty: easy
    testCases:
      - {input: "hello\n", expectedOutput: "olleh\n"}
      - {input: "python\n", expectedOutput: "nohtyp\n"}
`

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(t *testing.T, svc *fakeService, hs HealthSource) *gin.Engine {
	t.Helper()
	catalog, err := problem.Parse([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "codejudge_test_total"}))
	r := gin.New()
	Routes{
		Judge:    NewJudgeController(svc, WatchConfig{PollInterval: 5 * time.Millisecond}),
		Problems: NewProblemController(catalog, svc),
		Health:   hs,
		Gatherer: reg,
	}.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return w, env
}

func TestSubmitEndpoint(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(t, svc, nil)

	w, env := do(t, r, http.MethodPost, "/api/v1/submissions",
		`{"language":"python","source_code":"print(input()[::-1])","test_cases":[{"input":"hello","expected_output":"olleh"}]}`)
	if w.Code != http.StatusOK || env.Code != int(appErr.Success) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	var report model.Report
	if err := json.Unmarshal(env.Data, &report); err != nil || !report.OverallPassed || len(report.Verdicts) != 1 {
		t.Fatalf("unexpected report %s", env.Data)
	}

	w, env = do(t, r, http.MethodPost, "/api/v1/submissions", `{"language":"python","source_code":"x","test_cases":[]}`)
	if w.Code != http.StatusBadRequest || env.Code != int(appErr.NoTestCases) {
		t.Fatalf("expected NoTestCases, got %d %s", w.Code, w.Body.String())
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/submissions", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body should be 400, got %d", w.Code)
	}
}

func TestAsyncStatusAndCancel(t *testing.T) {
	svc := &fakeService{statuses: []model.SubmissionStatus{{SubmissionID: "async-1", State: model.StateExecuting, TotalCases: 2}}}
	r := newRouter(t, svc, nil)

	w, env := do(t, r, http.MethodPost, "/api/v1/submissions/async", `{"language":"python","source_code":"x","test_cases":[{}]}`)
	if w.Code != http.StatusAccepted || !strings.Contains(string(env.Data), "async-1") {
		t.Fatalf("unexpected async response %d %s", w.Code, w.Body.String())
	}
	w, env = do(t, r, http.MethodPost, "/api/v1/submissions/async", `{"language":"ruby","source_code":"x","test_cases":[{}]}`)
	if w.Code != http.StatusBadRequest || env.Code != int(appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, r, http.MethodGet, "/api/v1/submissions/async-1", "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"state":"executing"`) {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}
	w, _ = do(t, r, http.MethodGet, "/api/v1/submissions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w, env = do(t, r, http.MethodPost, "/api/v1/submissions/async-1/cancel", "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"cancelled":true`) {
		t.Fatalf("unexpected cancel response %d %s", w.Code, w.Body.String())
	}
	svc.cancelErr = appErr.New(appErr.SubmissionFinished)
	w, _ = do(t, r, http.MethodPost, "/api/v1/submissions/async-1/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRunAndLanguages(t *testing.T) {
	r := newRouter(t, &fakeService{}, nil)
	w, env := do(t, r, http.MethodPost, "/api/v1/runs", `{"language":"python","source_code":"x","input":"abc"}`)
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"stdout":"ABC"`) {
		t.Fatalf("unexpected run response %d %s", w.Code, w.Body.String())
	}
	w, env = do(t, r, http.MethodGet, "/api/v1/languages", "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"id":"python"`) {
		t.Fatalf("unexpected languages %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(string(env.Data), "runCmd") || strings.Contains(string(env.Data), "{src}") {
		t.Fatalf("run templates must not be exposed: %s", env.Data)
	}
}

func TestProblemEndpoints(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(t, svc, nil)

	w, env := do(t, r, http.MethodGet, "/api/v1/problems", "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), "reverse-string") {
		t.Fatalf("unexpected listing %d %s", w.Code, w.Body.String())
	}
	w, env = do(t, r, http.MethodGet, "/api/v1/problems/reverse-string", "")
	if w.Code != http.StatusOK || strings.Contains(string(env.Data), "olleh") {
		t.Fatalf("problem view must hide expected outputs: %d %s", w.Code, w.Body.String())
	}
	w, _ = do(t, r, http.MethodGet, "/api/v1/problems/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w, env = do(t, r, http.MethodPost, "/api/v1/problems/reverse-string/submissions", `{"language":"python","source_code":"print(input()[::-1])"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected submit response %d %s", w.Code, w.Body.String())
	}
	if len(svc.submitted) != 1 || len(svc.submitted[0].TestCases) != 2 || svc.submitted[0].TestCases[0].ExpectedOutput != "olleh\n" {
		t.Fatalf("catalog test cases not forwarded: %+v", svc.submitted)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	r := newRouter(t, &fakeService{}, fakeHealth{snap: health.Snapshot{Serving: true}})
	w, _ := do(t, r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	alert := &model.Alert{Code: int(appErr.SandboxUnavailable), Message: "down"}
	r = newRouter(t, &fakeService{}, fakeHealth{snap: health.Snapshot{Serving: false, Alert: alert}})
	w, _ = do(t, r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "sandbox_unavailable") {
		t.Fatalf("unexpected healthz %d %s", w.Code, w.Body.String())
	}

	w, _ = do(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "codejudge_test_total") {
		t.Fatalf("unexpected metrics %d %s", w.Code, w.Body.String())
	}
}

func TestWatchStreamsUntilTerminal(t *testing.T) {
	svc := &fakeService{statuses: []model.SubmissionStatus{
		{SubmissionID: "async-1", State: model.StateExecuting, CurrentCase: 0, TotalCases: 2},
		{SubmissionID: "async-1", State: model.StateExecuting, CurrentCase: 0, TotalCases: 2},
		{SubmissionID: "async-1", State: model.StateExecuting, CurrentCase: 1, TotalCases: 2},
		{SubmissionID: "async-1", State: model.StateCompleted, CurrentCase: 2, TotalCases: 2},
	}}
	srv := httptest.NewServer(newRouter(t, svc, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/submissions/async-1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frames []model.SubmissionStatus
	for {
		var st model.SubmissionStatus
		if err := conn.ReadJSON(&st); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			break
		}
		frames = append(frames, st)
	}
	if len(frames) != 3 {
		t.Fatalf("duplicate statuses should be collapsed, got %d frames: %+v", len(frames), frames)
	}
	if frames[2].State != model.StateCompleted {
		t.Fatalf("last frame should be terminal, got %+v", frames[2])
	}
}

func TestWatchUnknownSubmission(t *testing.T) {
	srv := httptest.NewServer(newRouter(t, &fakeService{}, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/submissions/missing/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial should fail for unknown submission")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
}
