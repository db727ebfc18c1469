package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// passInput returns the node's "input" value, or the trigger message when
// nothing is wired into it.
func passInput(_ context.Context, req ExecRequest) (NodeResult, error) {
	if v, ok := req.Input(InputInput); ok {
		return Succeeded(v), nil
	}
	v, _ := req.Context.Values.Get(BareSlot(WorkflowInputKey))
	return Succeeded(v), nil
}

func newTestRegistry() *ExecutorRegistry {
	reg := NewRegistry()
	reg.RegisterFunc(NodeTypeTrigger, passInput)
	reg.RegisterFunc(NodeTypeJavaScript, passInput)
	reg.RegisterFunc(NodeTypeChatOutput, passInput)
	reg.RegisterFunc(NodeTypeText, func(_ context.Context, req ExecRequest) (NodeResult, error) {
		return Succeeded(req.Node.StringData("text")), nil
	})
	return reg
}

func newTestRunner(opts ...RunnerOption) *Runner {
	opts = append([]RunnerOption{WithLogger(zap.NewNop())}, opts...)
	return NewRunner(newTestRegistry(), NewScheduler(), opts...)
}

func echoGraph() *Graph {
	return &Graph{
		ID: "echo",
		Nodes: []Node{
			{ID: "out", Type: NodeTypeChatOutput},
			{ID: "echo", Type: NodeTypeJavaScript},
			{ID: "trigger", Type: NodeTypeTrigger},
		},
		Edges: []Edge{
			{Source: "trigger", Target: "echo", TargetHandle: "in-input"},
			{Source: "echo", SourceHandle: HandleOutString, Target: "out", TargetHandle: "in-input"},
		},
	}
}

type fakeHistory struct {
	mu      sync.Mutex
	reports []RunReport
}

func (f *fakeHistory) RecordRun(_ context.Context, report RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeHistory) last() RunReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[len(f.reports)-1]
}

type fakeMetrics struct {
	mu    sync.Mutex
	runs  map[RunStatus]int
	nodes int
}

func (f *fakeMetrics) RecordWorkflowRun(_ string, status RunStatus, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[RunStatus]int)
	}
	f.runs[status]++
}

func (f *fakeMetrics) RecordNodeExecution(NodeType, bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes++
}

func TestExecuteWorkflow_EchoScenario(t *testing.T) {
	history := &fakeHistory{}
	metrics := &fakeMetrics{}
	runner := newTestRunner(WithHistory(history), WithMetrics(metrics))

	var called []string
	out, err := runner.ExecuteWorkflow(context.Background(), echoGraph(), ManualTrigger("hello"), &Deps{},
		func(nodeID string, result NodeResult) {
			assert.True(t, result.Success)
			called = append(called, nodeID)
		})

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, []string{"trigger", "echo", "out"}, called)
	assert.False(t, runner.IsWorkflowRunning("echo"))
	assert.Empty(t, runner.Scheduler().Active())

	report := history.last()
	assert.Equal(t, RunStatusCompleted, report.Status)
	assert.Equal(t, "hello", report.Output)
	assert.Len(t, report.Nodes, 3)
	assert.Equal(t, 1, metrics.runs[RunStatusCompleted])
	assert.Equal(t, 3, metrics.nodes)
}

func TestExecuteWorkflow_LegacyStringTrigger(t *testing.T) {
	runner := newTestRunner()
	g := &Graph{
		ID:    "legacy",
		Nodes: []Node{{ID: "out", Type: NodeTypeChatOutput}},
		Edges: []Edge{{Source: WorkflowInputKey, Target: "out", TargetHandle: "in-input"}},
	}

	var trig TriggerContext
	require.NoError(t, trig.UnmarshalJSON([]byte(`"from the past"`)))

	out, err := runner.ExecuteWorkflow(context.Background(), g, &trig, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "from the past", out)
}

func TestExecuteWorkflow_SelfLoopFailsBeforeAnyNode(t *testing.T) {
	history := &fakeHistory{}
	runner := newTestRunner(WithHistory(history))
	g := &Graph{
		ID:    "loop",
		Nodes: []Node{{ID: "A", Type: NodeTypeText}},
		Edges: []Edge{{Source: "A", Target: "A"}},
	}

	callbacks := 0
	out, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, func(string, NodeResult) { callbacks++ })

	require.Error(t, err)
	assert.True(t, IsCycle(err))
	assert.Nil(t, out)
	assert.Zero(t, callbacks)
	assert.False(t, runner.IsWorkflowRunning("loop"))

	report := history.last()
	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Empty(t, report.Nodes)
}

func TestExecuteWorkflow_CancellationBoundary(t *testing.T) {
	for k := 1; k <= 4; k++ {
		t.Run(fmt.Sprintf("cancel during node %d", k), func(t *testing.T) {
			history := &fakeHistory{}
			runner := newTestRunner(WithHistory(history))

			const total = 5
			g := &Graph{ID: "chain"}
			for i := 1; i <= total; i++ {
				g.Nodes = append(g.Nodes, Node{ID: fmt.Sprintf("n%d", i), Type: "step"})
				if i > 1 {
					g.Edges = append(g.Edges, Edge{Source: fmt.Sprintf("n%d", i-1), Target: fmt.Sprintf("n%d", i)})
				}
			}

			var execCtx *ExecutionContext
			started := 0
			runner.Registry().RegisterFunc("step", func(_ context.Context, req ExecRequest) (NodeResult, error) {
				started++
				execCtx = req.Context
				assert.True(t, runner.IsWorkflowRunning("chain"))
				if req.Node.ID == fmt.Sprintf("n%d", k) {
					runner.CancelWorkflow("chain")
					assert.False(t, runner.IsWorkflowRunning("chain"))
				}
				return Succeeded(req.Node.ID), nil
			})

			out, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, nil)

			require.NoError(t, err, "a cancelled run is not a failure")
			assert.Nil(t, out)
			assert.Equal(t, k, started, "node k+1 never starts")
			assert.Len(t, execCtx.ExecutedNodes(), k)
			assert.Empty(t, runner.Scheduler().Active())
			assert.Equal(t, RunStatusCancelled, history.last().Status)
		})
	}
}

func TestExecuteWorkflow_NodeFailureIsFatal(t *testing.T) {
	runner := newTestRunner()
	runner.Registry().RegisterFunc("boom", func(context.Context, ExecRequest) (NodeResult, error) {
		return Failed("template missing"), nil
	})

	g := &Graph{
		ID: "fails",
		Nodes: []Node{
			{ID: "t", Type: NodeTypeTrigger},
			{ID: "b", Type: "boom"},
			{ID: "out", Type: NodeTypeChatOutput},
		},
		Edges: []Edge{{Source: "t", Target: "b"}, {Source: "b", Target: "out", TargetHandle: "in-input"}},
	}

	var results []NodeResult
	out, err := runner.ExecuteWorkflow(context.Background(), g, ManualTrigger("x"), nil, func(_ string, r NodeResult) {
		results = append(results, r)
	})

	require.Error(t, err)
	assert.Nil(t, out)

	var nodeErr *NodeExecutionError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "b", nodeErr.NodeID)
	assert.Equal(t, NodeType("boom"), nodeErr.NodeType)
	assert.Equal(t, "template missing", nodeErr.Message)

	require.Len(t, results, 2, "callback fires for the failed node before the run aborts")
	assert.False(t, results[1].Success)
	assert.False(t, runner.IsWorkflowRunning("fails"))
}

func TestExecuteWorkflow_FailureCauseReachesCaller(t *testing.T) {
	errQuota := errors.New("quota exhausted")
	runner := newTestRunner()
	runner.Registry().RegisterFunc("limited", func(context.Context, ExecRequest) (NodeResult, error) {
		return FailedWithCause(fmt.Errorf("call upstream: %w", errQuota)), nil
	})

	g := &Graph{ID: "cause", Nodes: []Node{{ID: "l", Type: "limited"}}}
	var got NodeResult
	_, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, func(_ string, r NodeResult) { got = r })

	require.ErrorIs(t, err, errQuota)
	var nodeErr *NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "call upstream: quota exhausted", nodeErr.Message)
	assert.Equal(t, "call upstream: quota exhausted", got.Error)
}

func TestExecuteWorkflow_UnregisteredExecutor(t *testing.T) {
	runner := newTestRunner()
	g := &Graph{ID: "unknown", Nodes: []Node{{ID: "x", Type: "mystery"}}}

	var got NodeResult
	_, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, func(_ string, r NodeResult) { got = r })

	var nodeErr *NodeExecutionError
	require.True(t, errors.As(err, &nodeErr))
	var unregistered *UnregisteredExecutorError
	require.True(t, errors.As(err, &unregistered))
	assert.Equal(t, NodeType("mystery"), unregistered.NodeType)
	assert.False(t, got.Success)
	assert.Contains(t, got.Error, "mystery")
}

func TestExecuteWorkflow_ExecutorErrorPropagatesUnchanged(t *testing.T) {
	sentinel := errors.New("executor exploded")
	history := &fakeHistory{}
	runner := newTestRunner(WithHistory(history))
	runner.Registry().RegisterFunc("panicky", func(context.Context, ExecRequest) (NodeResult, error) {
		return NodeResult{}, sentinel
	})

	g := &Graph{ID: "throws", Nodes: []Node{{ID: "p", Type: "panicky"}}}
	callbacks := 0
	_, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, func(string, NodeResult) { callbacks++ })

	assert.Same(t, sentinel, err)
	assert.Zero(t, callbacks)
	assert.False(t, runner.IsWorkflowRunning("throws"))
	assert.Equal(t, RunStatusFailed, history.last().Status)
}

func TestExecuteWorkflow_CallerContextCancelled(t *testing.T) {
	runner := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.ExecuteWorkflow(ctx, echoGraph(), ManualTrigger("x"), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.Scheduler().Active())
}

func TestExecuteWorkflow_NilGraph(t *testing.T) {
	_, err := newTestRunner().ExecuteWorkflow(context.Background(), nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilGraph)
}

func TestExecuteWorkflow_NoOutputNodeYieldsNil(t *testing.T) {
	runner := newTestRunner()
	g := &Graph{ID: "quiet", Nodes: []Node{{ID: "t", Type: NodeTypeText, Data: map[string]any{"text": "x"}}}}

	out, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExecuteWorkflow_LastChatOutputWins(t *testing.T) {
	runner := newTestRunner()
	g := &Graph{
		ID: "two-outputs",
		Nodes: []Node{
			{ID: "a", Type: NodeTypeText, Data: map[string]any{"text": "first"}},
			{ID: "b", Type: NodeTypeText, Data: map[string]any{"text": "second"}},
			{ID: "out1", Type: NodeTypeChatOutput},
			{ID: "out2", Type: NodeTypeChatOutput},
		},
		Edges: []Edge{
			{Source: "a", Target: "out1", TargetHandle: "in-input"},
			{Source: "b", Target: "out2", TargetHandle: "in-input"},
		},
	}

	out, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", out)
}

func TestExecuteWorkflow_ScriptReflection(t *testing.T) {
	tests := []struct {
		name        string
		value       any
		wantString  any
		hasString   bool
		wantToolset any
		hasToolset  bool
	}{
		{
			name:        "string output",
			value:       "text",
			wantString:  "text",
			hasString:   true,
			wantToolset: []any{},
			hasToolset:  true,
		},
		{
			name:        "collection output",
			value:       []any{"tool-a"},
			wantToolset: []any{"tool-a"},
			hasToolset:  true,
		},
		{
			name:        "object output",
			value:       map[string]any{"text": "t", "toolset": []any{"x"}},
			wantString:  "t",
			hasString:   true,
			wantToolset: []any{"x"},
			hasToolset:  true,
		},
		{
			name:        "object with nil text keeps previous text",
			value:       map[string]any{"text": nil, "toolset": []any{"y"}},
			wantString:  "stale",
			hasString:   true,
			wantToolset: []any{"y"},
			hasToolset:  true,
		},
		{
			name:  "scalar output reflects nothing",
			value: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newTestRunner()
			var values *NodeValues
			runner.Registry().RegisterFunc(NodeTypeJavaScript, func(_ context.Context, req ExecRequest) (NodeResult, error) {
				values = req.Context.Values
				// stale text from an earlier write must be cleared by a collection output
				values.Set(HandleSlot(req.Node.ID, HandleOutString), "stale")
				return Succeeded(tt.value), nil
			})

			g := &Graph{ID: "js", Nodes: []Node{{ID: "js", Type: NodeTypeJavaScript}}}
			_, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, nil)
			require.NoError(t, err)

			s, ok := values.Get(HandleSlot("js", HandleOutString))
			if tt.hasString {
				assert.True(t, ok)
				assert.Equal(t, tt.wantString, s)
			} else if tt.name == "collection output" {
				assert.False(t, ok, "out-string is cleared for collection outputs")
			}

			ts, ok := values.Get(HandleSlot("js", HandleOutToolset))
			assert.Equal(t, tt.hasToolset, ok)
			if tt.hasToolset {
				assert.Equal(t, tt.wantToolset, ts)
			}

			bare, ok := values.Get(BareSlot("js"))
			assert.True(t, ok)
			assert.Equal(t, tt.value, bare)
		})
	}
}

type splitterExecutor struct{}

func (splitterExecutor) Execute(_ context.Context, req ExecRequest) (NodeResult, error) {
	return Succeeded([]string{"left", "right"}), nil
}

func (splitterExecutor) ReflectOutputs(nodeID string, value any, values *NodeValues) {
	parts := value.([]string)
	values.Set(HandleSlot(nodeID, "out-left"), parts[0])
	values.Set(HandleSlot(nodeID, "out-right"), parts[1])
}

func TestExecuteWorkflow_DeclarativeOutputReflector(t *testing.T) {
	runner := newTestRunner()
	runner.Registry().Register("splitter", splitterExecutor{})

	g := &Graph{
		ID: "split",
		Nodes: []Node{
			{ID: "s", Type: "splitter"},
			{ID: "out", Type: NodeTypeChatOutput},
		},
		Edges: []Edge{{Source: "s", SourceHandle: "out-right", Target: "out", TargetHandle: "in-input"}},
	}

	out, err := runner.ExecuteWorkflow(context.Background(), g, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "right", out)
}

func TestExecuteWorkflow_NilValueLeavesSlotUndefined(t *testing.T) {
	runner := newTestRunner()
	runner.Registry().RegisterFunc("silent", func(context.Context, ExecRequest) (NodeResult, error) {
		return Succeeded(nil), nil
	})

	g := &Graph{
		ID: "silent",
		Nodes: []Node{
			{ID: "s", Type: "silent"},
			{ID: "out", Type: NodeTypeChatOutput},
		},
		Edges: []Edge{{Source: "s", Target: "out", TargetHandle: "in-input"}},
	}

	// chatOutput falls back to the trigger message when its input is undefined
	out, err := runner.ExecuteWorkflow(context.Background(), g, ManualTrigger("fallback"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExecuteWorkflow_ConcurrentRunsOfDifferentWorkflows(t *testing.T) {
	runner := newTestRunner()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := echoGraph()
			g.ID = fmt.Sprintf("echo-%d", i)
			out, err := runner.ExecuteWorkflow(context.Background(), g, ManualTrigger(g.ID), nil, nil)
			if err != nil {
				errs <- err
				return
			}
			if out != g.ID {
				errs <- fmt.Errorf("run %s returned %v", g.ID, out)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Empty(t, runner.Scheduler().Active())
}

func TestProperty_RunnerVisitsDependenciesFirst(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nodes, edges := drawDAG(rt)
		for i := range nodes {
			nodes[i].Type = "visit"
		}

		runner := newTestRunner()
		var visited []string
		runner.Registry().RegisterFunc("visit", func(_ context.Context, req ExecRequest) (NodeResult, error) {
			visited = append(visited, req.Node.ID)
			return Succeeded(req.Node.ID), nil
		})

		_, err := runner.ExecuteWorkflow(context.Background(), &Graph{ID: "prop", Nodes: nodes, Edges: edges}, nil, nil, nil)
		require.NoError(rt, err)
		require.Len(rt, visited, len(nodes))

		pos := make(map[string]int, len(visited))
		for i, id := range visited {
			pos[id] = i
		}
		for _, e := range edges {
			assert.Less(rt, pos[e.Source], pos[e.Target])
		}
	})
}
