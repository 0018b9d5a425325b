package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claudecluster/core/internal/model"
)

func TestNewPoolExecutor_DefaultsMaxProcesses(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{}, testClientLogger(t))
	if p.maxProcesses != 1 {
		t.Fatalf("got maxProcesses %d, want 1", p.maxProcesses)
	}
	if cap(p.freeIdx) != 1 {
		t.Fatalf("got freeIdx capacity %d, want 1", cap(p.freeIdx))
	}
}

func TestPoolExecutor_StartFillsFreeSlots(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 3}, testClientLogger(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if len(p.freeIdx) != 3 {
		t.Fatalf("got %d free slots, want 3", len(p.freeIdx))
	}
}

// Grounded on the teacher's TestStartProcessPipes_CreatesAllPipes
// (agentctl/server/process/manager_test.go): spawn a real `cat` subprocess
// and assert the stdio plumbing, without depending on cat's stdout
// buffering behavior to carry a JSON-RPC round trip.
func TestPoolExecutor_SpawnProcessCreatesPipesAndClient(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 1, ClaudeCodePath: "cat"}, testClientLogger(t))

	proc, err := p.spawnProcess(context.Background())
	if err != nil {
		t.Fatalf("spawnProcess returned error: %v", err)
	}
	t.Cleanup(func() { p.stopProcess(proc) })

	if proc.cmd.Process == nil {
		t.Fatal("process should be running")
	}
	if proc.stdin == nil {
		t.Fatal("stdin pipe should be created")
	}
	if proc.client == nil {
		t.Fatal("client should be wired to the process")
	}
	if proc.state != model.ExecutorIdle {
		t.Fatalf("got initial state %v, want idle", proc.state)
	}
}

func TestPoolExecutor_AcquireProcessReusesSlot(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 1, ClaudeCodePath: "cat"}, testClientLogger(t))

	first, err := p.acquireProcess(context.Background(), 0)
	if err != nil {
		t.Fatalf("acquireProcess returned error: %v", err)
	}
	second, err := p.acquireProcess(context.Background(), 0)
	if err != nil {
		t.Fatalf("acquireProcess returned error: %v", err)
	}
	if first != second {
		t.Fatal("acquireProcess should return the same process for an already-occupied slot")
	}
	t.Cleanup(func() { p.stopProcess(first) })
}

func TestPoolExecutor_TerminateStopsAllProcesses(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 2, ClaudeCodePath: "cat"}, testClientLogger(t))
	if _, err := p.acquireProcess(context.Background(), 0); err != nil {
		t.Fatalf("acquireProcess returned error: %v", err)
	}
	if _, err := p.acquireProcess(context.Background(), 1); err != nil {
		t.Fatalf("acquireProcess returned error: %v", err)
	}

	if err := p.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate returned error: %v", err)
	}
	for i, proc := range p.processes {
		if proc != nil {
			t.Fatalf("slot %d still holds a process after Terminate", i)
		}
	}

	// Idempotent: terminating an already-empty pool must not panic or error.
	if err := p.Terminate(context.Background()); err != nil {
		t.Fatalf("second Terminate returned error: %v", err)
	}
}

func TestPoolExecutor_IsHealthyWhenSlotFree(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 1}, testClientLogger(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !p.IsHealthy(context.Background()) {
		t.Fatal("pool with a free slot should be healthy")
	}
}

func TestPoolExecutor_StatusEmptyPoolIsIdle(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 2}, testClientLogger(t))
	status := p.Status()
	if status.Mode != model.ModeProcessPool {
		t.Fatalf("got mode %v, want process pool", status.Mode)
	}
	if status.State != model.ExecutorIdle {
		t.Fatalf("got state %v, want idle", status.State)
	}
	if status.TasksCompleted != 0 {
		t.Fatalf("got %d completed tasks, want 0", status.TasksCompleted)
	}
}

// fakeAgent mans the other end of a process's stdio pipes, speaking the same
// line-delimited JSON-RPC protocol as a real pooled process would, without
// the buffering uncertainty of piping through a real `cat` subprocess.
type fakeAgent struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (a *fakeAgent) respondToNextExecute(t *testing.T, result ExecuteTaskResult) {
	t.Helper()
	if !a.scanner.Scan() {
		t.Fatalf("fake agent did not receive a request: %v", a.scanner.Err())
	}
	var req Request
	if err := json.Unmarshal(a.scanner.Bytes(), &req); err != nil {
		t.Fatalf("fake agent received malformed request: %v", err)
	}
	res, _ := json.Marshal(result)
	data, _ := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: res})
	a.out.Write(append(data, '\n'))
}

func (a *fakeAgent) rejectNextExecute(t *testing.T, rpcErr *Error) {
	t.Helper()
	if !a.scanner.Scan() {
		t.Fatalf("fake agent did not receive a request: %v", a.scanner.Err())
	}
	var req Request
	if err := json.Unmarshal(a.scanner.Bytes(), &req); err != nil {
		t.Fatalf("fake agent received malformed request: %v", err)
	}
	data, _ := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
	a.out.Write(append(data, '\n'))
}

// wireFakeProcess builds a *process backed by io.Pipes and a fake agent
// instead of a real subprocess, so Execute's protocol handling can be
// exercised deterministically.
func wireFakeProcess(t *testing.T) (*process, *fakeAgent) {
	t.Helper()
	agentReads, clientWrites := io.Pipe()
	clientReads, agentWrites := io.Pipe()

	client := NewClient(clientWrites, clientReads, testClientLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client.Start(ctx)

	scanner := bufio.NewScanner(agentReads)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &process{
		stdin:     nopWriteCloser{clientWrites},
		client:    client,
		state:     model.ExecutorIdle,
		startedAt: time.Now(),
	}, &fakeAgent{scanner: scanner, out: agentWrites}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestPoolExecutor_ExecuteHappyPath(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 1, ReuseProcesses: true, ProcessTimeout: 5 * time.Second}, testClientLogger(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	proc, agent := wireFakeProcess(t)
	p.processes[0] = proc

	resultCh := make(chan *model.TaskResult, 1)
	go func() {
		result, err := p.Execute(context.Background(), &model.Task{ID: "t-1", Title: "demo"})
		if err != nil {
			t.Errorf("Execute returned error: %v", err)
			return
		}
		resultCh <- result
	}()

	agent.respondToNextExecute(t, ExecuteTaskResult{Output: "all good"})

	select {
	case result := <-resultCh:
		if result.Status != model.TaskCompleted {
			t.Fatalf("got status %v, want completed", result.Status)
		}
		if result.Output != "all good" {
			t.Fatalf("got output %q, want %q", result.Output, "all good")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Execute to return")
	}

	if p.processes[0].tasksCompleted != 1 {
		t.Fatalf("got tasksCompleted %d, want 1", p.processes[0].tasksCompleted)
	}
}

func TestPoolExecutor_ExecuteSnapshotsWorkspaceArtifacts(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "output.txt"), []byte("result\n"), 0o644); err != nil {
		t.Fatalf("failed to seed workspace file: %v", err)
	}

	p := NewPoolExecutor(PoolConfig{MaxProcesses: 1, ReuseProcesses: true, ProcessTimeout: 5 * time.Second}, testClientLogger(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	proc, agent := wireFakeProcess(t)
	p.processes[0] = proc

	resultCh := make(chan *model.TaskResult, 1)
	go func() {
		task := &model.Task{ID: "t-artifacts", Title: "demo", Context: model.TaskContext{WorkingDir: workDir}}
		result, err := p.Execute(context.Background(), task)
		if err != nil {
			t.Errorf("Execute returned error: %v", err)
			return
		}
		resultCh <- result
	}()

	agent.respondToNextExecute(t, ExecuteTaskResult{Output: "done"})

	select {
	case result := <-resultCh:
		if len(result.Artifacts) != 1 {
			t.Fatalf("got %d artifacts, want 1: %+v", len(result.Artifacts), result.Artifacts)
		}
		if result.Artifacts[0].Path != "output.txt" {
			t.Fatalf("got artifact path %q, want output.txt", result.Artifacts[0].Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Execute to return")
	}
}

func TestPoolExecutor_ExecuteRPCErrorFailsTask(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{MaxProcesses: 1, ReuseProcesses: true, ProcessTimeout: 5 * time.Second}, testClientLogger(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	proc, agent := wireFakeProcess(t)
	p.processes[0] = proc

	resultCh := make(chan *model.TaskResult, 1)
	go func() {
		result, err := p.Execute(context.Background(), &model.Task{ID: "t-2", Title: "demo"})
		if err != nil {
			t.Errorf("Execute returned error: %v", err)
			return
		}
		resultCh <- result
	}()

	agent.rejectNextExecute(t, &Error{Code: InternalError, Message: "agent crashed"})

	select {
	case result := <-resultCh:
		if result.Status != model.TaskFailed {
			t.Fatalf("got status %v, want failed", result.Status)
		}
		if result.Error != "agent crashed" {
			t.Fatalf("got error %q, want %q", result.Error, "agent crashed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Execute to return")
	}
}

// TestPoolExecutor_ExecuteTimeoutMarksTimedOutAndRespawns uses a real `sleep`
// subprocess that never speaks the protocol, so Call blocks until the
// process timeout fires - exercising Execute's timeout branch and the
// killAndRespawn/stopProcess cleanup path end to end.
func TestPoolExecutor_ExecuteTimeoutMarksTimedOutAndRespawns(t *testing.T) {
	p := NewPoolExecutor(PoolConfig{
		MaxProcesses:   1,
		ReuseProcesses: true,
		ProcessTimeout: 100 * time.Millisecond,
		ClaudeCodePath: "sleep",
	}, testClientLogger(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(func() { p.Terminate(context.Background()) })

	result, err := p.Execute(context.Background(), &model.Task{ID: "t-3", Title: "demo"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Status != model.TaskFailed || result.ErrorKind != model.ErrKindTimedOut {
		t.Fatalf("got result %+v, want failed/timed_out", result)
	}

	// killAndRespawn must have cleared the slot so the next acquire spawns fresh.
	p.mu.Lock()
	stillOccupied := p.processes[0] != nil
	p.mu.Unlock()
	if stillOccupied {
		t.Fatal("slot should be cleared after a timed-out process is killed")
	}
}
