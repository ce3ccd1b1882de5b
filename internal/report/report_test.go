package report

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"

	"github.com/thuasta/saiblo-worker/internal/build"
	"github.com/thuasta/saiblo-worker/internal/judge"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *resty.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return resty.New().SetBaseURL(server.URL)
}

func TestBuildReporter_Success(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))

	reporter := NewBuildReporter(client, logger.New("ERROR"))
	err := reporter.Report(context.Background(), build.Result{
		CodeID: "c1",
		Image:  "saiblo-worker-image:c1",
	})
	if err != nil {
		t.Fatalf("Report returned error: %v", err)
	}

	if gotPath != "/judger/codes/c1/" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody["compile_status"] != "编译成功" {
		t.Errorf("unexpected compile_status %q", gotBody["compile_status"])
	}
	if gotBody["compile_message"] != "" {
		t.Errorf("unexpected compile_message %q", gotBody["compile_message"])
	}
}

func TestBuildReporter_Failure(t *testing.T) {
	t.Parallel()

	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))

	reporter := NewBuildReporter(client, logger.New("ERROR"))
	err := reporter.Report(context.Background(), build.Result{
		CodeID:  "c2",
		Message: "syntax error",
	})
	if err != nil {
		t.Fatalf("Report returned error: %v", err)
	}

	if gotBody["compile_status"] != "编译失败" {
		t.Errorf("unexpected compile_status %q", gotBody["compile_status"])
	}
	if gotBody["compile_message"] != "syntax error" {
		t.Errorf("unexpected compile_message %q", gotBody["compile_message"])
	}
}

func TestBuildReporter_ServerErrorSurfaces(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))

	reporter := NewBuildReporter(client, logger.New("ERROR"))
	if err := reporter.Report(context.Background(), build.Result{CodeID: "c3"}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

// capturedForm holds the parsed multipart form of a match report.
type capturedForm struct {
	path   string
	values map[string]string
	file   struct {
		name string
		data []byte
	}
}

func captureMatchReport(t *testing.T) (*resty.Client, *capturedForm) {
	t.Helper()

	form := &capturedForm{values: map[string]string{}}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form.path = r.URL.Path
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
			return
		}
		for key, values := range r.MultipartForm.Value {
			form.values[key] = values[0]
		}
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			form.file.name = files[0].Filename
			f, err := files[0].Open()
			if err != nil {
				t.Errorf("open replay part: %v", err)
				return
			}
			defer f.Close()
			form.file.data, err = io.ReadAll(f)
			if err != nil {
				t.Errorf("read replay part: %v", err)
			}
		}
	}))
	return client, form
}

func TestMatchReporter_Success(t *testing.T) {
	t.Parallel()

	replayPath := filepath.Join(t.TempDir(), "m1.dat")
	if err := os.WriteFile(replayPath, []byte("replay-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	client, form := captureMatchReport(t)
	reporter := NewMatchReporter(client, logger.New("ERROR"))

	err := reporter.Report(context.Background(), &judge.MatchResult{
		MatchID: "m1",
		AgentResults: []judge.AgentResult{
			{ExitCode: 0, Score: 1.5, Status: judge.StatusOK, Stderr: []byte("warn")},
			{ExitCode: 0, Score: 0, Status: judge.StatusCANCEL, Stderr: []byte{}},
		},
		ReplayPath: replayPath,
		HostStderr: []byte{},
	})
	if err != nil {
		t.Fatalf("Report returned error: %v", err)
	}

	if form.path != "/judger/matches/m1/" {
		t.Errorf("unexpected path %q", form.path)
	}
	if form.values["state"] != "评测成功" {
		t.Errorf("unexpected state %q", form.values["state"])
	}
	if form.values["message"] != "{}" {
		t.Errorf("unexpected message %q", form.values["message"])
	}
	if form.values["scores"] != "[1.5,0]" {
		t.Errorf("unexpected scores %q", form.values["scores"])
	}

	var states []agentState
	if err := json.Unmarshal([]byte(form.values["states"]), &states); err != nil {
		t.Fatalf("decode states: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].Position != 0 || states[0].Status != judge.StatusOK {
		t.Errorf("unexpected state 0: %+v", states[0])
	}
	if states[0].Stderr != base64.StdEncoding.EncodeToString([]byte("warn")) {
		t.Errorf("stderr must be base64, got %q", states[0].Stderr)
	}
	if states[1].Status != judge.StatusCANCEL {
		t.Errorf("unexpected state 1: %+v", states[1])
	}

	if form.file.name != "saiblo-worker-replay-m1.dat" {
		t.Errorf("unexpected replay file name %q", form.file.name)
	}
	if string(form.file.data) != "replay-bytes" {
		t.Errorf("unexpected replay contents %q", form.file.data)
	}
}

func TestMatchReporter_Failure(t *testing.T) {
	t.Parallel()

	client, form := captureMatchReport(t)
	reporter := NewMatchReporter(client, logger.New("ERROR"))

	err := reporter.Report(context.Background(), &judge.MatchResult{
		MatchID: "m2",
		AgentResults: []judge.AgentResult{
			{Status: judge.StatusUE, Stderr: []byte{}},
		},
		ErrorMessage: "game host timed out",
		HostStderr:   []byte("panic"),
	})
	if err != nil {
		t.Fatalf("Report returned error: %v", err)
	}

	if form.values["state"] != "评测失败" {
		t.Errorf("unexpected state %q", form.values["state"])
	}
	if form.values["error"] != "game host timed out" {
		t.Errorf("unexpected error field %q", form.values["error"])
	}
	if form.values["err"] != base64.StdEncoding.EncodeToString([]byte("panic")) {
		t.Errorf("host stderr must be base64, got %q", form.values["err"])
	}
	if _, ok := form.values["scores"]; ok {
		t.Error("failure reports must not carry scores")
	}
	if len(form.file.data) != 0 {
		t.Errorf("failure reports must attach an empty replay, got %d bytes", len(form.file.data))
	}
}
