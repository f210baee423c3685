package cli_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/haunt/internal/engine"
	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/internal/tasks"
	"github.com/poltergeist/haunt/pkg/cli"
	"github.com/poltergeist/haunt/pkg/config"
)

var siteFiles = map[string]string{
	"src/css/a.css":                ".a { color: red; }\n",
	"src/js/a.js":                  "const a = 1;\nconsole.log(a);\n",
	"src/templates/index.hbs":      "<h1>{{title}}</h1>\n",
	"src/templates/data/data.json": `{"title": "Hi"}`,
}

func TestMain(m *testing.M) {
	os.Unsetenv("NODE_ENV")
	os.Exit(m.Run())
}

// syncBuffer is written by task goroutines and the logger at once
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, contents := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// execute runs haunt with args and returns everything it printed
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	cfg := cli.NewConfig()
	cfg.Version = "1.2.3"

	var out, errOut syncBuffer
	c := cli.NewCLIWithOutput(cfg, &out, &errOut)
	err := c.ExecuteContext(ctx, args)
	return out.String() + errOut.String(), err
}

func fileExists(t *testing.T, root, name string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
	return err == nil
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestBuildCommand(t *testing.T) {
	root := writeProject(t, siteFiles)

	out, err := execute(t, context.Background(), "--root", root, "build")
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}

	for _, name := range []string{"build/css/index.min.css", "build/js/index.min.js", "build/index.html"} {
		if !fileExists(t, root, name) {
			t.Errorf("expected %s to be written", name)
		}
	}
	if html := readFile(t, root, "build/index.html"); !strings.Contains(html, "<h1>Hi</h1>") {
		t.Errorf("unexpected html: %q", html)
	}
	if !strings.Contains(out, "Finished 'build'") {
		t.Errorf("expected the run to be logged, got:\n%s", out)
	}
}

func TestRootCommandRunsDefault(t *testing.T) {
	root := writeProject(t, siteFiles)

	if out, err := execute(t, context.Background(), "--root", root); err != nil {
		t.Fatalf("default failed: %v\n%s", err, out)
	}
	if !fileExists(t, root, "build/index.html") {
		t.Error("default should build the site")
	}
}

func TestRunCommand(t *testing.T) {
	t.Run("runs tasks in order", func(t *testing.T) {
		root := writeProject(t, siteFiles)

		out, err := execute(t, context.Background(), "--root", root, "run", "css", "js")
		if err != nil {
			t.Fatalf("run failed: %v\n%s", err, out)
		}
		if !fileExists(t, root, "build/css/index.min.css") || !fileExists(t, root, "build/js/index.min.js") {
			t.Error("expected both bundles")
		}
		if fileExists(t, root, "build/index.html") {
			t.Error("compile should not have run")
		}
		if strings.Index(out, "Starting 'css'") > strings.Index(out, "Starting 'js'") {
			t.Errorf("tasks ran out of order:\n%s", out)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := execute(t, context.Background(), "--root", t.TempDir(), "run", "nope")
		if !errors.Is(err, engine.ErrTaskNotFound) {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
	})

	t.Run("requires a task", func(t *testing.T) {
		if _, err := execute(t, context.Background(), "--root", t.TempDir(), "run"); err == nil {
			t.Error("expected an error without tasks")
		}
	})

	t.Run("failure is returned", func(t *testing.T) {
		_, err := execute(t, context.Background(), "--root", t.TempDir(), "compile")
		if !errors.Is(err, pipeline.ErrNoSources) {
			t.Errorf("expected ErrNoSources, got %v", err)
		}
	})
}

func TestTaskCommandAliases(t *testing.T) {
	out, err := execute(t, context.Background(), "serve", "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !strings.Contains(out, "browserSync") {
		t.Errorf("serve should resolve to browserSync, got:\n%s", out)
	}
}

func TestTasksCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "--root", t.TempDir(), "tasks")
	if err != nil {
		t.Fatalf("tasks failed: %v", err)
	}

	for _, want := range []string{"css", "compile", "stylelint", "eslint, stylelint", "serve → browserSync"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestStatusCommand(t *testing.T) {
	root := writeProject(t, siteFiles)

	out, err := execute(t, context.Background(), "--root", root, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "No task runs recorded yet") {
		t.Errorf("unexpected status before any run:\n%s", out)
	}

	if _, err := execute(t, context.Background(), "--root", root, "css"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, context.Background(), "--root", root, "run", "fonts", "compile"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "src/templates/index.hbs")); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, context.Background(), "--root", root, "compile"); err == nil {
		t.Fatal("compile without an entry template should fail")
	}

	out, err = execute(t, context.Background(), "--root", root, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	lines := strings.Split(out, "\n")
	find := func(task string) string {
		for _, line := range lines {
			if strings.HasPrefix(line, task+" ") {
				return line
			}
		}
		return ""
	}

	if line := find("css"); !strings.Contains(line, "succeeded") || !strings.Contains(line, "cli") {
		t.Errorf("unexpected css row: %q", line)
	}
	if line := find("compile"); !strings.Contains(line, "failed") {
		t.Errorf("unexpected compile row: %q", line)
	}
	if !strings.Contains(out, "compile:") {
		t.Errorf("expected the last compile error to be shown:\n%s", out)
	}
}

func TestCleanCommand(t *testing.T) {
	root := writeProject(t, siteFiles)
	if _, err := execute(t, context.Background(), "--root", root, "build"); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, context.Background(), "--root", root, "clean"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if fileExists(t, root, "build") {
		t.Error("build directory should be removed")
	}
	if !fileExists(t, root, ".haunt/state/clean.json") {
		t.Error("clean should record its own state")
	}

	if _, err := execute(t, context.Background(), "--root", root, "clean", "--state"); err != nil {
		t.Fatalf("clean --state failed: %v", err)
	}
	if fileExists(t, root, ".haunt") {
		t.Error("state directory should be removed")
	}
}

func TestLintCommand(t *testing.T) {
	files := map[string]string{
		".eslintrc.json": `{"rules": {"no-debugger": "error"}}`,
		"src/js/a.js":    "debugger;\n",
	}

	t.Run("reports without failing", func(t *testing.T) {
		root := writeProject(t, files)
		out, err := execute(t, context.Background(), "--root", root, "lint")
		if err != nil {
			t.Fatalf("lint failed: %v", err)
		}
		if !strings.Contains(out, "no-debugger") {
			t.Errorf("expected the problem in the report:\n%s", out)
		}
	})

	t.Run("strict", func(t *testing.T) {
		root := writeProject(t, files)
		_, err := execute(t, context.Background(), "--root", root, "--strict", "eslint")
		var lintErr *tasks.LintError
		if !errors.As(err, &lintErr) {
			t.Fatalf("expected a lint error, got %v", err)
		}
		if lintErr.Summary.Errors != 1 {
			t.Errorf("expected 1 error, got %d", lintErr.Summary.Errors)
		}
	})
}

func TestProductionFlag(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	root := writeProject(t, map[string]string{
		"src/css/a.css": ".a {\n  color: red;\n}\n",
	})

	if _, err := execute(t, context.Background(), "--root", root, "--production", "css"); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("NODE_ENV") != config.ProductionEnv {
		t.Errorf("expected NODE_ENV=production, got %q", os.Getenv("NODE_ENV"))
	}
	if css := readFile(t, root, "build/css/index.min.css"); !strings.Contains(css, ".a{color:red}") {
		t.Errorf("expected minified css, got %q", css)
	}
}

func TestEnvFile(t *testing.T) {
	const key = "HAUNT_TEMPLATES_OUTPUT"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	files := map[string]string{
		"src/templates/index.hbs": "<p>home</p>\n",
		"haunt.env":               key + "=home.html\n",
		".env":                    key + "=dotenv.html\n",
	}
	root := writeProject(t, files)

	if _, err := execute(t, context.Background(), "--root", root, "--env-file", "haunt.env", "compile"); err != nil {
		t.Fatal(err)
	}
	if !fileExists(t, root, "build/home.html") {
		t.Error("--env-file should win over .env and override templates.output")
	}
	if fileExists(t, root, "build/dotenv.html") {
		t.Error(".env value should have been replaced")
	}

	// values from .env replace variables already set
	os.Setenv(key, "process.html")
	if _, err := execute(t, context.Background(), "--root", root, "compile"); err != nil {
		t.Fatal(err)
	}
	if !fileExists(t, root, "build/dotenv.html") {
		t.Error(".env should override the process environment")
	}
}

func TestInitCommand(t *testing.T) {
	t.Run("writes the default configuration", func(t *testing.T) {
		root := t.TempDir()
		if _, err := execute(t, context.Background(), "--root", root, "init"); err != nil {
			t.Fatalf("init failed: %v", err)
		}

		path := filepath.Join(root, "haunt.config.json")
		cfg, err := config.NewManager().LoadConfig(path)
		if err != nil {
			t.Fatalf("generated config does not load: %v", err)
		}
		if cfg.Server.Port != 3000 || cfg.Paths.Dest.Dir != "build" {
			t.Errorf("unexpected generated config: %+v", cfg.Server)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		root := writeProject(t, map[string]string{"haunt.config.yaml": "version: \"1.0\"\n"})
		_, err := execute(t, context.Background(), "--root", root, "init")
		if err == nil || !strings.Contains(err.Error(), "--force") {
			t.Errorf("expected an overwrite error, got %v", err)
		}

		if _, err := execute(t, context.Background(), "--root", root, "init", "--force", "--format", "yaml"); err != nil {
			t.Fatalf("init --force failed: %v", err)
		}
		if _, err := config.NewManager().LoadConfig(filepath.Join(root, "haunt.config.yaml")); err != nil {
			t.Errorf("generated yaml does not load: %v", err)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := execute(t, context.Background(), "--root", t.TempDir(), "init", "--format", "toml"); err == nil {
			t.Error("expected an error for an unknown format")
		}
	})

	t.Run("starter rules", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			".stylelintrc.json": `{"rules": {}}`,
			"src/js/a.js":       "var a = 1\n",
		})
		if _, err := execute(t, context.Background(), "--root", root, "init", "--rules"); err != nil {
			t.Fatalf("init --rules failed: %v", err)
		}

		if got := readFile(t, root, ".stylelintrc.json"); got != `{"rules": {}}` {
			t.Errorf("existing rule file was overwritten: %q", got)
		}

		out, err := execute(t, context.Background(), "--root", root, "eslint")
		if err != nil {
			t.Fatalf("eslint failed: %v", err)
		}
		for _, rule := range []string{"no-var", "semi"} {
			if !strings.Contains(out, rule) {
				t.Errorf("expected starter rule %s to report:\n%s", rule, out)
			}
		}
	})
}

func TestValidateCommand(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		out, err := execute(t, context.Background(), "--root", t.TempDir(), "validate")
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		if !strings.Contains(out, "Default configuration is valid") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if !strings.Contains(out, "template entry src/templates/index.hbs not found") {
			t.Errorf("expected a warning for the missing entry:\n%s", out)
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		root := writeProject(t, map[string]string{"haunt.config.json": `{"version": "2.0"}`})
		_, err := execute(t, context.Background(), "--root", root, "validate")
		if err == nil || !strings.Contains(err.Error(), "unsupported config version") {
			t.Errorf("expected a version error, got %v", err)
		}
	})

	t.Run("invalid file blocks tasks", func(t *testing.T) {
		root := writeProject(t, map[string]string{"haunt.config.json": `{"server": {"port": 70000}}`})
		if _, err := execute(t, context.Background(), "--root", root, "build"); err == nil {
			t.Error("expected build to refuse an invalid configuration")
		}
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "👻 haunt v1.2.3") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestDevCommand(t *testing.T) {
	root := writeProject(t, siteFiles)
	port := freePort(t)

	m := config.NewManager()
	cfg := m.GetDefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	if err := m.WriteConfig(filepath.Join(root, "haunt.config.json"), cfg); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "--root", root, "dev")
		done <- err
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/__haunt/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("dev server did not come up")
		}
		time.Sleep(50 * time.Millisecond)
	}

	// build runs alongside the server
	for !fileExists(t, root, "build/index.html") {
		if time.Now().After(deadline) {
			t.Fatal("site was not built")
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := http.Get(base + "/")
	if err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(body.String(), "<h1>Hi</h1>") || !strings.Contains(body.String(), "/__haunt/livereload.js") {
		t.Errorf("unexpected index page: %q", body.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("dev should stop cleanly, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("dev did not stop")
	}
}
