package invoker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/inventory"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// fakeRemote scripts command responses and keeps an in-memory filesystem.
type fakeRemote struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	commands  []string
	sudoCmds  []string
	responses map[string]*ssh.ExecResult
	respond   func(cmd string) *ssh.ExecResult
	files     map[string][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		responses: make(map[string]*ssh.ExecResult),
		files:     make(map[string][]byte),
	}
}

func (f *fakeRemote) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRemote) lookup(cmd string) *ssh.ExecResult {
	if res, ok := f.responses[cmd]; ok {
		return res
	}
	if f.respond != nil {
		if res := f.respond(cmd); res != nil {
			return res
		}
	}
	return &ssh.ExecResult{ExitCode: 0}
}

func (f *fakeRemote) Run(_ context.Context, cmd string) (*ssh.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.lookup(cmd), nil
}

func (f *fakeRemote) RunSudo(_ context.Context, cmd string, _ string) (*ssh.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	f.sudoCmds = append(f.sudoCmds, cmd)
	return f.lookup(cmd), nil
}

func (f *fakeRemote) WriteFile(_ context.Context, path string, content []byte, _ uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), content...)
	return nil
}

func (f *fakeRemote) UploadFile(_ context.Context, localPath, remotePath string, _ uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remotePath] = []byte("uploaded:" + localPath)
	return nil
}

func (f *fakeRemote) DownloadFile(_ context.Context, remotePath, localPath string) error {
	return nil
}

func (f *fakeRemote) ReadFile(_ context.Context, remotePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[remotePath]
	if !ok {
		return nil, fmt.Errorf("no such file %s", remotePath)
	}
	return data, nil
}

func (f *fakeRemote) Checksum(_ context.Context, remotePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[remotePath]
	if !ok {
		return "", fmt.Errorf("no such file %s", remotePath)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (f *fakeRemote) ranCommand(cmd string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func twoHostGroup() *inventory.Group {
	return &inventory.Group{
		Name: "workers",
		Hosts: []inventory.Endpoint{
			{Host: "10.0.0.5", Port: 22},
			{Host: "10.0.0.6", Port: 22},
		},
	}
}

func TestDefaultRegistryKnowsBuiltins(t *testing.T) {
	r := NewDefaultRegistry()
	for _, ref := range []string{
		"command.run", "pkg.ensure", "file.push", "file.template", "file.fetch",
		"artifact.fetch", "firewall.rule", "service.ensure", "vm.lifecycle",
	} {
		if !r.Known(ref) {
			t.Errorf("registry does not know %s", ref)
		}
	}
	if r.Known("dns.zone") {
		t.Error("registry should not know dns.zone")
	}
	if _, err := r.Get("dns.zone"); err == nil {
		t.Error("Get(dns.zone) should fail")
	}
}

func TestGroupInvokerFansOutToAllMembers(t *testing.T) {
	remotes := map[string]*fakeRemote{}
	factory := func(ep inventory.Endpoint) (ssh.Remote, error) {
		f := newFakeRemote()
		remotes[ep.Address()] = f
		return f, nil
	}
	inv := NewGroupInvoker(twoHostGroup(), NewDefaultRegistry(), factory)
	defer inv.Close()

	res, err := inv.Invoke(context.Background(), "command.run", map[string]engine.Value{
		"cmd": engine.String("uptime"),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != engine.StatusSuccess {
		t.Fatalf("status = %s: %s", res.Status, res.RawOutput)
	}
	for addr, f := range remotes {
		if !f.ranCommand("uptime") {
			t.Errorf("endpoint %s never ran the command", addr)
		}
		if !f.connected {
			t.Errorf("endpoint %s never connected", addr)
		}
	}
}

func TestGroupInvokerAggregatesAllMemberOutput(t *testing.T) {
	factory := func(ep inventory.Endpoint) (ssh.Remote, error) {
		f := newFakeRemote()
		f.responses["hostname"] = &ssh.ExecResult{Stdout: "node-" + ep.Host}
		return f, nil
	}
	inv := NewGroupInvoker(twoHostGroup(), NewDefaultRegistry(), factory)
	defer inv.Close()

	res, err := inv.Invoke(context.Background(), "command.run", map[string]engine.Value{
		"cmd": engine.String("hostname"),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != engine.StatusSuccess {
		t.Fatalf("status = %s: %s", res.Status, res.RawOutput)
	}
	// Every member's diagnostics survive in the aggregate, endpoint-prefixed.
	for _, want := range []string{
		"[10.0.0.5:22] node-10.0.0.5",
		"[10.0.0.6:22] node-10.0.0.6",
	} {
		if !strings.Contains(res.RawOutput, want) {
			t.Errorf("raw output %q missing %q", res.RawOutput, want)
		}
	}
}

func TestGroupInvokerFailsOnFirstFailingMember(t *testing.T) {
	var order []string
	factory := func(ep inventory.Endpoint) (ssh.Remote, error) {
		f := newFakeRemote()
		if ep.Host == "10.0.0.5" {
			f.responses["false"] = &ssh.ExecResult{ExitCode: 1, Stderr: "boom"}
		}
		order = append(order, ep.Host)
		return f, nil
	}
	inv := NewGroupInvoker(twoHostGroup(), NewDefaultRegistry(), factory)
	defer inv.Close()

	res, err := inv.Invoke(context.Background(), "command.run", map[string]engine.Value{
		"cmd": engine.String("false"),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != engine.StatusFailure {
		t.Fatalf("status = %s, want failure", res.Status)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	// The second member is never touched once the first fails.
	if len(order) != 1 {
		t.Errorf("connected endpoints = %v, want just the first", order)
	}
}

func TestGroupInvokerReusesConnections(t *testing.T) {
	built := 0
	factory := func(ep inventory.Endpoint) (ssh.Remote, error) {
		built++
		return newFakeRemote(), nil
	}
	group := &inventory.Group{Name: "control", Hosts: []inventory.Endpoint{{Host: "10.0.0.5"}}}
	inv := NewGroupInvoker(group, NewDefaultRegistry(), factory)
	defer inv.Close()

	for i := 0; i < 3; i++ {
		if _, err := inv.Invoke(context.Background(), "command.run",
			map[string]engine.Value{"cmd": engine.String("true")}); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
	}
	if built != 1 {
		t.Errorf("factory called %d times, want 1", built)
	}
}

func TestGroupInvokerUnknownAction(t *testing.T) {
	inv := NewGroupInvoker(twoHostGroup(), NewDefaultRegistry(), func(inventory.Endpoint) (ssh.Remote, error) {
		return newFakeRemote(), nil
	})
	if _, err := inv.Invoke(context.Background(), "dns.zone", nil); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestGroupInvokerCloseClosesAll(t *testing.T) {
	remotes := map[string]*fakeRemote{}
	factory := func(ep inventory.Endpoint) (ssh.Remote, error) {
		f := newFakeRemote()
		remotes[ep.Address()] = f
		return f, nil
	}
	inv := NewGroupInvoker(twoHostGroup(), NewDefaultRegistry(), factory)
	if _, err := inv.Invoke(context.Background(), "command.run",
		map[string]engine.Value{"cmd": engine.String("true")}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := inv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for addr, f := range remotes {
		if !f.closed {
			t.Errorf("endpoint %s not closed", addr)
		}
	}
}
