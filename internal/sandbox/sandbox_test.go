package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/config"
	"github.com/dividuum/info-beamer/internal/tree"
)

type recordingSubscriber struct {
	lines []string
}

func (r *recordingSubscriber) WriteLine(line string) error {
	r.lines = append(r.lines, line)
	return nil
}

func writeScript(t *testing.T, dir, code string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "node.lua"), []byte(code), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestSandbox(t *testing.T, code string) (*Sandbox, *tree.Node) {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, dir, code)

	n := tree.NewRoot("root")
	tree.NewTree(n)
	comp := compositor.NewCompositor(4)
	sb := New(n, comp, dir)
	n.Sandbox = sb
	sb.SetNow(time.Now())
	return sb, n
}

func TestBootDispatchesBootHandler(t *testing.T) {
	sb, n := newTestSandbox(t, `
function boot()
	setup(64, 64)
	print("hello", "world")
end
`)
	sub := &recordingSubscriber{}
	n.AddSubscriber(sub)

	if err := sb.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !n.IsSetup() {
		t.Fatal("setup() was not applied")
	}
	if len(sub.lines) != 1 || sub.lines[0] != "hello\tworld" {
		t.Fatalf("print output = %v, want [\"hello\\tworld\"]", sub.lines)
	}
}

func TestUnhandledEventIsNoop(t *testing.T) {
	sb, _ := newTestSandbox(t, `function boot() end`)
	if err := sb.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := sb.Event("whatever", "arg"); err != nil {
		t.Fatalf("Event on a script with no handler should be a no-op, got %v", err)
	}
}

func TestEventDeliversArgs(t *testing.T) {
	sb, n := newTestSandbox(t, `
function boot() end
function event(name, value)
	print(name, value)
end
`)
	sub := &recordingSubscriber{}
	n.AddSubscriber(sub)
	if err := sb.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := sb.Event("msg", "payload"); err != nil {
		t.Fatalf("Event: %v", err)
	}
	if len(sub.lines) != 1 || sub.lines[0] != "msg\tpayload" {
		t.Fatalf("print output = %v", sub.lines)
	}
}

func TestScriptErrorDoesNotBlacklist(t *testing.T) {
	sb, n := newTestSandbox(t, `
function boot()
	error("boom")
end
`)
	if err := sb.Boot(); err == nil {
		t.Fatal("expected boot() error to propagate")
	}
	if n.IsBlacklisted(time.Now()) {
		t.Fatal("a plain script error must not blacklist the node")
	}
}

func TestCPUBudgetExceededBlacklists(t *testing.T) {
	origBudget := config.Keys.CPUBudget
	config.Keys.CPUBudget = 0.02
	defer func() { config.Keys.CPUBudget = origBudget }()

	sb, n := newTestSandbox(t, `
function boot() end
function event(name)
	while true do end
end
`)
	if err := sb.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	sb.SetNow(time.Now())
	if err := sb.Event("loop"); err == nil {
		t.Fatal("expected a CPU budget error")
	}
	if !n.IsBlacklisted(time.Now()) {
		t.Fatal("node should be blacklisted after exceeding its CPU budget")
	}
}
