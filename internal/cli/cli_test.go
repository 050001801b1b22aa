package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"live-poll-service/internal/auth"
	"live-poll-service/internal/client"
	"live-poll-service/internal/domain"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwtSecret: cli-secret\n  tokenTTL: 1h\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--user", "42"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	claims, err := auth.NewTokens("cli-secret", 0).Validate(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user 42, got %d", claims.UserID)
	}
}

func TestDescribeSnapshot(t *testing.T) {
	s := client.Snapshot{
		State:      client.StateAwaitingAnswer,
		Connection: client.ConnConnected,
		Question: &domain.Question{ID: 3, Text: "Pick", Type: domain.QuestionTypeMCQ, Options: []domain.Option{
			{ID: 30, Text: "a"}, {ID: 31, Text: "b"},
		}},
		Outcome: client.OutcomeSaved,
	}
	got := describe(s)
	want := "[awaiting_answer] socket=connected #3 (MCQ) Pick: [30] a [31] b last=saved"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func lecturerServer(t *testing.T) *httptest.Server {
	t.Helper()
	advanced := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions/7/advance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-User-ID") != "1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if advanced {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"END_OF_SESSION","message":"end of session"}}`))
			return
		}
		advanced = true
		id := int64(12)
		_ = json.NewEncoder(w).Encode(domain.Session{ID: 7, CourseID: 1, ActiveQuestionID: &id})
	})
	mux.HandleFunc("/api/v1/getSessionQuestions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") != "7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"sessionId":7,"questions":[` +
			`{"id":11,"sessionId":7,"text":"First","type":"MCQ","position":0},` +
			`{"id":12,"sessionId":7,"text":"Second","type":"MSQ","position":1}]}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestAdvanceCommand(t *testing.T) {
	ts := lecturerServer(t)

	got := runCmd(t, "advance", "--server", ts.URL, "--session", "7", "--user", "1")
	if got != "active question #12\n" {
		t.Fatalf("unexpected first advance output %q", got)
	}
	got = runCmd(t, "advance", "--server", ts.URL, "--session", "7", "--user", "1")
	if got != "end of session\n" {
		t.Fatalf("unexpected second advance output %q", got)
	}
}

func TestQuestionsCommand(t *testing.T) {
	ts := lecturerServer(t)

	got := runCmd(t, "questions", "--server", ts.URL, "--session", "7", "--user", "2")
	want := "1. #11 (MCQ) First\n2. #12 (MSQ) Second\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
