package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/bucketchat/internal/chat"
	"github.com/kalambet/bucketchat/internal/config"
	"github.com/kalambet/bucketchat/internal/fakebackend"
	"github.com/kalambet/bucketchat/internal/storage"
)

const (
	testEmail    = "me@example.com"
	testPassword = "hunter2"
)

// useFakeBackend points every command at a fresh fake backend and a
// temporary data dir shared across commands of one test.
func useFakeBackend(t *testing.T) *fakebackend.Backend {
	t.Helper()
	fake := fakebackend.New(fakebackend.Options{})
	fake.AddUser(testEmail, testPassword)
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Config{}
	cfg.Backend.BaseURL = srv.URL
	cfg.Identity.BaseURL = srv.URL + "/auth/v1"
	cfg.Credential.StorageKey = "test.credential"
	cfg.Credential.RefreshThreshold = 60 * time.Second
	cfg.Poller.Interval = 5 * time.Millisecond
	cfg.Poller.MinElapsed = time.Hour
	cfg.Poller.MaxPolls = 50
	cfg.Chat.InferenceTimeout = 5 * time.Second
	cfg.Chat.HistoryTurns = 4
	cfg.Ingest.ChunkSize = 1000
	cfg.Ingest.ChunkOverlap = 200
	dataDir := t.TempDir()

	old := newApp
	newApp = func() (*app, error) {
		db, err := storage.Open(dataDir)
		if err != nil {
			return nil, err
		}
		return buildApp(cfg, db), nil
	}
	t.Cleanup(func() { newApp = old })
	return fake
}

// execute runs the root command with args and stdin, returning stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	noColor = true

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
	}()

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores defaults; cobra keeps flag values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, "", args...)
	if err != nil {
		t.Fatalf("bucketchat %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func login(t *testing.T) {
	t.Helper()
	mustExecute(t, "login", "--email", testEmail, "--password", testPassword)
}

func TestLoginWhoamiLogout(t *testing.T) {
	useFakeBackend(t)

	if out := mustExecute(t, "whoami"); !strings.Contains(out, "Not signed in") {
		t.Errorf("whoami before login = %q", out)
	}

	login(t)
	if out := mustExecute(t, "whoami"); !strings.Contains(out, "Signed in: yes") {
		t.Errorf("whoami after login = %q", out)
	}

	mustExecute(t, "logout")
	if out := mustExecute(t, "whoami"); !strings.Contains(out, "Not signed in") {
		t.Errorf("whoami after logout = %q", out)
	}
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	useFakeBackend(t)
	if _, err := execute(t, testPassword+"\n", "login", "--email", testEmail); err != nil {
		t.Fatalf("login: %v", err)
	}
	if out := mustExecute(t, "whoami"); !strings.Contains(out, "Signed in: yes") {
		t.Errorf("whoami = %q", out)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	useFakeBackend(t)
	_, err := execute(t, "", "login", "--email", testEmail, "--password", "nope")
	if err == nil || !strings.Contains(err.Error(), "invalid email or password") {
		t.Fatalf("error = %v", err)
	}
}

func TestAsk_RequiresSignIn(t *testing.T) {
	useFakeBackend(t)
	_, err := execute(t, "", "ask", "b1", "hello")
	if err != errNotSignedIn {
		t.Fatalf("error = %v, want errNotSignedIn", err)
	}
}

func TestAsk_EmptyBucket(t *testing.T) {
	fake := useFakeBackend(t)
	login(t)

	out := mustExecute(t, "ask", "b1", "What's", "in", "here?")
	if strings.TrimSpace(out) != chat.NoSourcesMessage {
		t.Errorf("output = %q, want the no-sources message", out)
	}
	if n := fake.Calls("POST /chat/ask"); n != 0 {
		t.Errorf("inference calls = %d, want 0", n)
	}
}

func TestAsk_ContinuesConversationAcrossRuns(t *testing.T) {
	fake := useFakeBackend(t)
	fake.AddSource("b1", "https://example.com/guide", "success")
	login(t)

	out := mustExecute(t, "ask", "b1", "first question")
	if !strings.Contains(out, `You asked "first question"`) || !strings.Contains(out, "https://example.com/guide") {
		t.Errorf("first answer = %q", out)
	}
	out = mustExecute(t, "ask", "b1", "follow up")
	if !strings.Contains(out, "1 earlier exchange(s)") {
		t.Errorf("follow-up answer did not carry history: %q", out)
	}
	if n := fake.Calls("POST /chat/sessions"); n != 1 {
		t.Errorf("session creates = %d, want 1", n)
	}

	mustExecute(t, "ask", "--new", "b1", "fresh start")
	if n := fake.Calls("POST /chat/sessions"); n != 2 {
		t.Errorf("session creates after --new = %d, want 2", n)
	}

	history := mustExecute(t, "history", "b1")
	if !strings.Contains(history, "fresh start") || strings.Contains(history, "first question") {
		t.Errorf("history = %q, want only the new conversation", history)
	}
	if !strings.Contains(history, "    - https://example.com/guide") {
		t.Errorf("history lost the answer's citations: %q", history)
	}
}

func TestAsk_SessionExpired(t *testing.T) {
	fake := useFakeBackend(t)
	login(t)

	fake.RevokeAccessTokens()
	fake.RevokeRefreshTokens()
	_, err := execute(t, "", "ask", "b1", "anyone there?")
	if err != errNotSignedIn {
		t.Fatalf("error = %v, want errNotSignedIn", err)
	}
	if out := mustExecute(t, "whoami"); !strings.Contains(out, "Not signed in") {
		t.Errorf("credential survived a dead refresh token: %q", out)
	}
}

func TestChat_Loop(t *testing.T) {
	fake := useFakeBackend(t)
	fake.AddSource("b1", "https://example.com", "success")
	login(t)

	out, err := execute(t, "one\n\n/new\ntwo\n/history\n/quit\nignored\n", "chat", "b1")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if strings.Count(out, `You asked "one"`) != 1 {
		t.Errorf("output = %q, want one answer to the first question", out)
	}
	// Answered once, then shown again by /history.
	if strings.Count(out, `You asked "two"`) != 2 {
		t.Errorf("output = %q, want the second answer and its history line", out)
	}
	if strings.Contains(out, "ignored") {
		t.Error("input after /quit was processed")
	}
	if n := fake.Calls("POST /chat/sessions"); n != 2 {
		t.Errorf("session creates = %d, want 2 (one per conversation)", n)
	}
}

func TestSourcesAddAndWatch(t *testing.T) {
	fake := useFakeBackend(t)
	login(t)

	mustExecute(t, "sources", "add", "b1", "--url", "https://x.com/someone/status/1")
	if n := fake.Calls("POST /sources/tweet"); n != 1 {
		t.Errorf("tweet submissions = %d, want 1", n)
	}

	out := mustExecute(t, "sources", "add", "b1", "--text", "some notes", "--wait")
	if !strings.Contains(out, "100%") || !strings.Contains(out, "ready") {
		t.Errorf("wait output = %q", out)
	}

	out = mustExecute(t, "sources", "status", "b1", "empty")
	if !strings.Contains(out, "b1 [####################] 100%") || !strings.Contains(out, "empty [--------------------]   0% empty") {
		t.Errorf("status output = %q", out)
	}
}

func TestSourcesStatus_Watch(t *testing.T) {
	fake := useFakeBackend(t)
	login(t)
	mustExecute(t, "sources", "add", "b1", "--url", "https://example.com/a")
	mustExecute(t, "sources", "add", "b2", "--url", "https://youtu.be/abc")
	fake.AddSource("b2", "https://example.com/broken", "failed")

	out := mustExecute(t, "sources", "status", "--watch", "b1", "b2")
	if !strings.Contains(out, "b1 [####################] 100% ready") {
		t.Errorf("b1 never settled: %q", out)
	}
	if !strings.Contains(out, "https://example.com/broken") {
		t.Errorf("failed source not listed: %q", out)
	}
}

func TestSourcesAdd_File(t *testing.T) {
	useFakeBackend(t)
	login(t)

	path := filepath.Join(t.TempDir(), "page.html")
	os.WriteFile(path, []byte("<html><body><p>Hello file</p></body></html>"), 0o644)
	if _, err := execute(t, "", "sources", "add", "b1", "--file", path); err != nil {
		t.Fatalf("sources add --file: %v", err)
	}
}

func TestSourcesAdd_RequiresContent(t *testing.T) {
	useFakeBackend(t)
	login(t)
	if _, err := execute(t, "", "sources", "add", "b1"); err == nil {
		t.Fatal("expected error without --url, --text or --file")
	}
}

func TestSessionsListShowDelete(t *testing.T) {
	fake := useFakeBackend(t)
	fake.AddSource("b1", "https://example.com", "success")
	login(t)
	mustExecute(t, "ask", "b1", "a topic worth keeping")

	out := mustExecute(t, "sessions", "list", "b1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "a topic worth keeping") {
		t.Fatalf("sessions list = %q", out)
	}
	id := strings.Fields(lines[1])[0]

	out = mustExecute(t, "sessions", "show", id)
	if !strings.Contains(out, "you a topic worth keeping") || !strings.Contains(out, "bot You asked") {
		t.Errorf("sessions show = %q", out)
	}

	mustExecute(t, "sessions", "delete", id)
	if out := mustExecute(t, "sessions", "list", "b1"); !strings.Contains(out, "No sessions.") {
		t.Errorf("after delete = %q", out)
	}
	if out := mustExecute(t, "history", "b1"); !strings.Contains(out, "No conversation yet.") {
		t.Errorf("local copy not forgotten: %q", out)
	}
}

func TestProgressBar(t *testing.T) {
	tests := map[int]string{
		0:   "[--------------------]   0%",
		50:  "[##########----------]  50%",
		100: "[####################] 100%",
		130: "[####################] 100%",
	}
	for in, want := range tests {
		if got := progressBar(in); got != want {
			t.Errorf("progressBar(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
