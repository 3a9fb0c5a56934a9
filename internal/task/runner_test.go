package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techs-targe/PromptRig-sub001/internal/agent"
	"github.com/techs-targe/PromptRig-sub001/internal/intent"
	"github.com/techs-targe/PromptRig-sub001/internal/llm"
	"github.com/techs-targe/PromptRig-sub001/internal/policy"
	"github.com/techs-targe/PromptRig-sub001/internal/security"
	"github.com/techs-targe/PromptRig-sub001/internal/session"
	"github.com/techs-targe/PromptRig-sub001/internal/store"
	"github.com/techs-targe/PromptRig-sub001/internal/testutil"
)

func newRunnerEngine(t *testing.T, p llm.Provider) *agent.Engine {
	t.Helper()
	pf := security.NewPreFilter(security.DefaultThreatPatterns)
	pol, err := policy.NewEngine(context.Background(), policy.NewValidator(), nil, policy.Options{})
	require.NoError(t, err)
	of, err := security.NewOutputFilter(policy.PublicLabels())
	require.NoError(t, err)
	return agent.NewEngine(agent.Config{
		Provider:     p,
		Executor:     &testutil.MockExecutor{Results: map[string]string{"list_projects": "[]"}},
		Policy:       pol,
		Guardrail:    security.NewGuardrail(pf, security.NewStrikeTracker(3, time.Minute)),
		Classifier:   intent.NewClassifier(pf, nil, ""),
		OutputFilter: of,
		MaxTokens:    1024,
	})
}

func waitTask(t *testing.T, st *store.Store, id string) *store.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := st.GetTask(context.Background(), id)
		require.NoError(t, err)
		if task.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not finish in time")
	return nil
}

// gateProvider blocks every Generate until released.
type gateProvider struct {
	gate <-chan struct{}
	resp *llm.Response
}

func (p *gateProvider) Name() string { return "openai" }

func (p *gateProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	<-p.gate
	r := *p.resp
	r.Model = req.Model
	return &r, nil
}

func (p *gateProvider) EstimateCost(string, int, int) float64 { return 0 }

// panicProvider simulates a crash inside the turn.
type panicProvider struct{}

func (panicProvider) Name() string { return "openai" }

func (panicProvider) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	panic("completion exploded")
}

func (panicProvider) EstimateCost(string, int, int) float64 { return 0 }

func req(taskID, sessionID, text string) Request {
	return Request{
		TaskID:        taskID,
		SessionID:     sessionID,
		UserText:      text,
		Model:         "gpt-4o-mini",
		Temperature:   0.7,
		MaxIterations: 10,
	}
}

func TestRunner_SubmitToCompletion(t *testing.T) {
	st := testutil.NewTestStore(t)
	p := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "プロジェクトは0件です。", FinishReason: "stop"},
	}}
	r := NewRunner(newRunnerEngine(t, p), session.NewManager(), st, 2, 5)
	defer r.Stop()

	require.NoError(t, r.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて")))
	task := waitTask(t, st, "t1")

	assert.Equal(t, store.TaskCompleted, task.Status)
	assert.Equal(t, "プロジェクトは0件です。", task.Result)
	assert.Equal(t, "gpt-4o-mini", task.Model)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.FinishedAt)

	// The event log ends with the completion and is fully durable.
	events, err := st.EventsSince(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, "status")
	assert.Equal(t, "completion", events[len(events)-1].Type)

	// The conversation is persisted for the next task on this session.
	msgs, err := st.LoadMessages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
}

func TestRunner_ToolCallLogPersisted(t *testing.T) {
	st := testutil.NewTestStore(t)
	p := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "list_projects", Arguments: map[string]interface{}{}}}},
		{Content: "プロジェクトは0件です。", FinishReason: "stop"},
	}}
	r := NewRunner(newRunnerEngine(t, p), session.NewManager(), st, 1, 5)
	defer r.Stop()

	require.NoError(t, r.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて")))
	task := waitTask(t, st, "t1")
	require.Equal(t, store.TaskCompleted, task.Status)

	var calls []session.ToolInvocation
	require.NoError(t, json.Unmarshal([]byte(task.ToolCalls), &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "list_projects", calls[0].Name)
	assert.Equal(t, "[]", calls[0].Result)
}

func TestRunner_CancelQueuedTask(t *testing.T) {
	st := testutil.NewTestStore(t)
	gate := make(chan struct{})
	p := &gateProvider{gate: gate, resp: &llm.Response{Content: "done", FinishReason: "stop"}}
	r := NewRunner(newRunnerEngine(t, p), session.NewManager(), st, 1, 5)
	defer r.Stop()

	// t1 occupies the single worker; t2 waits in the queue.
	require.NoError(t, r.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて")))
	require.NoError(t, r.Submit(context.Background(), req("t2", "s2", "プロジェクト一覧を見せて")))
	assert.True(t, r.Cancel("t2"))

	close(gate)
	t1 := waitTask(t, st, "t1")
	t2 := waitTask(t, st, "t2")

	assert.Equal(t, store.TaskCompleted, t1.Status)
	assert.Equal(t, store.TaskCanceled, t2.Status)
	// t2 never started.
	assert.Nil(t, t2.StartedAt)
}

func TestRunner_CancelUnknownTask(t *testing.T) {
	st := testutil.NewTestStore(t)
	r := NewRunner(newRunnerEngine(t, &testutil.ScriptedProvider{}), session.NewManager(), st, 1, 5)
	defer r.Stop()

	assert.False(t, r.Cancel("missing"))
}

func TestRunner_PanicContained(t *testing.T) {
	st := testutil.NewTestStore(t)
	sessions := session.NewManager()
	r := NewRunner(newRunnerEngine(t, panicProvider{}), sessions, st, 1, 5)
	defer r.Stop()

	require.NoError(t, r.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて")))
	task := waitTask(t, st, "t1")
	assert.Equal(t, store.TaskError, task.Status)
	assert.Contains(t, task.Error, "panic")

	// The worker survived and keeps taking work.
	require.NoError(t, r.Submit(context.Background(), req("t2", "s2", "プロジェクト一覧を見せて")))
	task = waitTask(t, st, "t2")
	assert.True(t, task.Terminal())
}

func TestRunner_HistoryContinuesAcrossRestart(t *testing.T) {
	st := testutil.NewTestStore(t)
	p1 := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "1件目の回答です。", FinishReason: "stop"},
	}}
	r1 := NewRunner(newRunnerEngine(t, p1), session.NewManager(), st, 1, 5)
	require.NoError(t, r1.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて")))
	waitTask(t, st, "t1")
	r1.Stop()

	// A fresh manager simulates a process restart: the persisted history
	// seeds the session before the new turn runs.
	p2 := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "2件目の回答です。", FinishReason: "stop"},
	}}
	r2 := NewRunner(newRunnerEngine(t, p2), session.NewManager(), st, 1, 5)
	defer r2.Stop()
	require.NoError(t, r2.Submit(context.Background(), req("t2", "s1", "プロンプト一覧を見せて")))
	waitTask(t, st, "t2")

	require.Equal(t, 1, p2.Calls())
	// The provider saw the prior turn plus the new user message.
	msgs := p2.ReceivedMessages[0]
	require.Len(t, msgs, 3)
	assert.Equal(t, "プロジェクト一覧を見せて", msgs[0].Content)
	assert.Equal(t, "1件目の回答です。", msgs[1].Content)
	assert.Equal(t, "プロンプト一覧を見せて", msgs[2].Content)
}

func TestRunner_EventsFallBackToStoreAfterFinish(t *testing.T) {
	st := testutil.NewTestStore(t)
	p := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "done", FinishReason: "stop"},
	}}
	r := NewRunner(newRunnerEngine(t, p), session.NewManager(), st, 1, 5)
	defer r.Stop()

	require.NoError(t, r.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて")))
	waitTask(t, st, "t1")

	// The task has left the active set; Events serves the durable log.
	events, err := r.Events(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "completion", events[len(events)-1].Type)
}

func TestRunner_SubmitAfterStop(t *testing.T) {
	st := testutil.NewTestStore(t)
	r := NewRunner(newRunnerEngine(t, &testutil.ScriptedProvider{}), session.NewManager(), st, 1, 5)
	r.Stop()

	err := r.Submit(context.Background(), req("t1", "s1", "プロジェクト一覧を見せて"))
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestRunner_SubmitDuringStop(t *testing.T) {
	// Submit racing Stop must never hit the closed queue; it either
	// enqueues or returns ErrRunnerClosed.
	for i := 0; i < 100; i++ {
		st := testutil.NewTestStore(t)
		p := &testutil.ScriptedProvider{Responses: []*llm.Response{
			{Content: "done", FinishReason: "stop"},
		}}
		r := NewRunner(newRunnerEngine(t, p), session.NewManager(), st, 2, 5)

		done := make(chan error, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- fmt.Errorf("submit panicked: %v", rec)
				}
			}()
			for n := 0; ; n++ {
				err := r.Submit(context.Background(), req(fmt.Sprintf("t%d", n), "s1", "プロジェクト一覧を見せて"))
				if errors.Is(err, ErrRunnerClosed) {
					done <- nil
					return
				}
				if err != nil && !errors.Is(err, ErrQueueFull) {
					done <- err
					return
				}
			}
		}()

		r.Stop()
		require.NoError(t, <-done)
	}
}
