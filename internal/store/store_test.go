package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techs-targe/PromptRig-sub001/internal/policy"
	"github.com/techs-targe/PromptRig-sub001/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "promptrig.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "promptrig.db")

	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// Reopening an existing database must not fail.
	st, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestTaskLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &Task{ID: "t1", SessionID: "s1", Input: "プロジェクト一覧", Model: "gpt-4o-mini"}))

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, "gpt-4o-mini", task.Model)
	assert.False(t, task.Terminal())
	assert.Nil(t, task.StartedAt)

	require.NoError(t, st.MarkTaskRunning(ctx, "t1"))
	task, err = st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, task.Status)
	assert.NotNil(t, task.StartedAt)

	toolCalls := `[{"id":"c1","name":"list_projects","result":"[]"}]`
	require.NoError(t, st.FinishTask(ctx, "t1", TaskCompleted, "2件あります", "", toolCalls))
	task, err = st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, task.Terminal())
	assert.Equal(t, "2件あります", task.Result)
	assert.Equal(t, toolCalls, task.ToolCalls)
	assert.NotNil(t, task.FinishedAt)
}

func TestGetTask_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasks_FilterAndOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, st.CreateTask(ctx, &Task{ID: "t1", SessionID: "s1", Input: "a", CreatedAt: base}))
	require.NoError(t, st.CreateTask(ctx, &Task{ID: "t2", SessionID: "s2", Input: "b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, st.CreateTask(ctx, &Task{ID: "t3", SessionID: "s1", Input: "c", CreatedAt: base.Add(2 * time.Second)}))

	all, err := st.ListTasks(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].ID) // newest first

	s1, err := st.ListTasks(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, s1, 2)

	limited, err := st.ListTasks(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEvents_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	batch := []Event{
		{TaskID: "t1", Index: 0, Type: "status", Payload: "running"},
		{TaskID: "t1", Index: 1, Type: "tool_start", Payload: "プロジェクト一覧"},
		{TaskID: "t1", Index: 2, Type: "completion", Payload: "done"},
	}
	require.NoError(t, st.AppendEvents(ctx, batch))
	require.NoError(t, st.AppendEvents(ctx, nil)) // empty batch is a no-op

	events, err := st.EventsSince(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Index)
	assert.Equal(t, "completion", events[1].Type)
}

func TestSettings_DefaultsAndClamping(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	s, err := st.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	// Writes clamp into range.
	require.NoError(t, st.UpdateSetting(ctx, "max_iterations", "500"))
	require.NoError(t, st.UpdateSetting(ctx, "worker_count", "0"))
	require.NoError(t, st.UpdateSetting(ctx, "stream_timeout_seconds", "120"))
	require.NoError(t, st.UpdateSetting(ctx, "unknown_tool_deny", "true"))

	s, err = st.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99, s.MaxIterations)
	assert.Equal(t, 1, s.WorkerCount)
	assert.Equal(t, 120, s.StreamTimeoutSeconds)
	assert.True(t, s.UnknownToolDeny)
}

func TestSettings_Rejections(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	assert.Error(t, st.UpdateSetting(ctx, "max_iterations", "many"))
	assert.Error(t, st.UpdateSetting(ctx, "unknown_tool_deny", "maybe"))
	assert.Error(t, st.UpdateSetting(ctx, "favorite_color", "blue"))
}

func TestSettings_UnparseableRowKeepsDefault(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// A hand-edited row that is not an integer.
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ('max_tokens', 'lots', ?)`, time.Now().UTC())
	require.NoError(t, err)

	s, err := st.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().MaxTokens, s.MaxTokens)
}

func TestMessages_SaveLoad(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	msgs := []session.Message{
		{Role: session.RoleUser, Content: "プロジェクト3を削除して", Timestamp: time.Now().UTC()},
		{Role: session.RoleAssistant, Content: "", Timestamp: time.Now().UTC(), ToolCalls: []session.ToolInvocation{
			{ID: "c1", Name: "delete_project", Arguments: map[string]interface{}{"project_id": float64(3)}, Result: "deleted"},
		}},
		{Role: session.RoleTool, Content: "deleted", ToolCallID: "c1", Timestamp: time.Now().UTC()},
	}
	require.NoError(t, st.SaveMessages(ctx, "s1", msgs))

	got, err := st.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "プロジェクト3を削除して", got[0].Content)
	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, "delete_project", got[1].ToolCalls[0].Name)
	assert.Equal(t, "c1", got[2].ToolCallID)

	// Saving again replaces, not appends.
	require.NoError(t, st.SaveMessages(ctx, "s1", msgs[:1]))
	got, err = st.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAudit_AppendAndList(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	decisions := []*policy.Decision{
		{Outcome: policy.NeedsConfirmation, Tier: policy.TierDestructive, Tool: "delete_project",
			Args: map[string]interface{}{"project_id": float64(3)}, Reason: "destructive tool requires explicit confirmation", Timestamp: time.Now().UTC()},
		{Outcome: policy.Allow, Tier: policy.TierDestructive, Tool: "delete_project",
			Args: map[string]interface{}{"project_id": float64(3)}, Reason: "destructive tool, confirmed", Timestamp: time.Now().UTC()},
	}
	for _, d := range decisions {
		require.NoError(t, st.AppendAudit(ctx, "s1", d))
	}

	entries, err := st.ListAudit(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(policy.NeedsConfirmation), entries[0].Outcome)
	assert.Equal(t, string(policy.Allow), entries[1].Outcome)
	assert.Contains(t, entries[0].ArgsJSON, "project_id")

	other, err := st.ListAudit(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestResources_ProjectCRUD(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p, err := st.CreateProject(ctx, "夏のキャンペーン", "8月分")
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	got, err := st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "夏のキャンペーン", got.Name)

	require.NoError(t, st.UpdateProject(ctx, p.ID, "秋のキャンペーン", "9月分"))
	got, err = st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "秋のキャンペーン", got.Name)

	list, err := st.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.DeleteProject(ctx, p.ID))
	_, err = st.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteProject(ctx, p.ID), ErrNotFound)
}

func TestResources_PromptsScopedToProject(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p1, err := st.CreateProject(ctx, "p1", "")
	require.NoError(t, err)
	p2, err := st.CreateProject(ctx, "p2", "")
	require.NoError(t, err)

	_, err = st.CreatePrompt(ctx, p1.ID, "挨拶", "こんにちは")
	require.NoError(t, err)
	_, err = st.CreatePrompt(ctx, p2.ID, "要約", "以下を要約して")
	require.NoError(t, err)

	all, err := st.ListPrompts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := st.ListPrompts(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "挨拶", scoped[0].Name)
}

func TestResources_WorkflowStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	w, err := st.CreateWorkflow(ctx, 0, "日次バッチ", `{"steps":[]}`)
	require.NoError(t, err)
	assert.Equal(t, "idle", w.Status)

	require.NoError(t, st.SetWorkflowStatus(ctx, w.ID, "running"))
	got, err := st.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", got.Status)

	assert.ErrorIs(t, st.SetWorkflowStatus(ctx, 9999, "canceled"), ErrNotFound)
}

func TestResources_TagsAndDatasets(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tag, err := st.CreateTag(ctx, "本番")
	require.NoError(t, err)
	tags, err := st.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
	require.NoError(t, st.DeleteTag(ctx, tag.ID))

	d, err := st.CreateDataset(ctx, 0, "評価セット")
	require.NoError(t, err)
	require.NoError(t, st.UpdateDataset(ctx, d.ID, "評価セットv2"))
	got, err := st.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "評価セットv2", got.Name)
	require.NoError(t, st.DeleteDataset(ctx, d.ID))
	_, err = st.GetDataset(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
