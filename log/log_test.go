package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDir(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag absolute", "/tmp/mylog", "", "/tmp/mylog"},
		{"flag relative", "logs", "", filepath.Join(wd, "logs")},
		{"flag beats env", "/tmp/flag", "/tmp/env", "/tmp/flag"},
		{"env absolute", "", "/tmp/minutes-env-log", "/tmp/minutes-env-log"},
		{"env relative", "", "envlogs", filepath.Join(wd, "envlogs")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MINUTES_LOG_PATH", tt.env)
			got, err := ResolveDir(tt.flag)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("MINUTES_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "minutes") {
		t.Errorf("default dir %q does not mention minutes", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{diagFileName, transcriptFileName} {
		if _, err := os.Stat(filepath.Join(tmp, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestSegment(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Segment("abc", "hello world")

	data, err := os.ReadFile(filepath.Join(tmp, transcriptFileName))
	if err != nil {
		t.Fatal(err)
	}
	fields := strings.Split(strings.TrimSuffix(string(data), "\n"), "\t")
	if len(fields) != 4 {
		t.Fatalf("expected 4 tab-separated fields, got %q", data)
	}
	if fields[2] != "abc" || fields[3] != "hello world" {
		t.Errorf("unexpected fields %q", fields)
	}
}

func TestStageWritesDiagnostics(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Stage("abc", "idle", "recording")
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, diagFileName))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{"stage", "from=idle", "to=recording", "session=abc"} {
		if !strings.Contains(line, want) {
			t.Errorf("diagnostics missing %q: %q", want, line)
		}
	}
}

func TestDebugf(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Debugf("toggle: %v", "not paused")
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, diagFileName))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "DBG") || !strings.Contains(line, "toggle: not paused") {
		t.Errorf("diagnostics = %q, want a debug line", line)
	}
}

func TestHelpersBeforeInit(t *testing.T) {
	setupLogDir(t)
	// must not panic or create files
	Info("x")
	Segment("abc", "text")
	Stage("abc", "idle", "recording")
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close()
}
