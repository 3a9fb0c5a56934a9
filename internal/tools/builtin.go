package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/techs-targe/PromptRig-sub001/internal/llm"
	"github.com/techs-targe/PromptRig-sub001/internal/store"
)

// TaskCanceler flips the cooperative cancel flag for a running task.
// Implemented by the task runner; injected here to keep the dependency
// direction one-way.
type TaskCanceler interface {
	Cancel(taskID string) bool
}

// BuiltinDeps are the backends the built-in tools operate on.
type BuiltinDeps struct {
	Store    *store.Store
	Provider llm.Provider // used by run_prompt; nil disables it
	Model    string
	Canceler TaskCanceler // used by cancel_task; nil disables it
}

func idSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`)
}

func emptySchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

// RegisterBuiltin registers the full platform tool set against the
// store. Tool names match the static permission table one to one.
func RegisterBuiltin(reg *Registry, deps BuiltinDeps) {
	st := deps.Store

	register := func(name, desc string, schema json.RawMessage, fn func(ctx context.Context, args map[string]interface{}) (string, error)) {
		reg.Register(&FuncTool{ToolName: name, ToolDesc: desc, ToolSchema: schema, Fn: fn})
	}

	register("list_projects", "List all projects.", emptySchema(),
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			items, err := st.ListProjects(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(items)
		})
	register("get_project", "Get one project by id.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			p, err := st.GetProject(ctx, id)
			if err != nil {
				return "", err
			}
			return toJSON(p)
		})
	register("create_project", "Create a project.",
		json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"}},"required":["name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			p, err := st.CreateProject(ctx, name, optString(args, "description"))
			if err != nil {
				return "", err
			}
			return toJSON(p)
		})
	register("update_project", "Update a project's name and description.",
		json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"},"description":{"type":"string"}},"required":["id","name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			if err := st.UpdateProject(ctx, id, name, optString(args, "description")); err != nil {
				return "", err
			}
			return okJSON(id)
		})
	register("delete_project", "Permanently delete a project.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.DeleteProject(ctx, id); err != nil {
				return "", err
			}
			return okJSON(id)
		})

	register("list_prompts", "List prompts, optionally scoped to a project.",
		json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"integer"}}}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			items, err := st.ListPrompts(ctx, optInt64(args, "project_id"))
			if err != nil {
				return "", err
			}
			return toJSON(items)
		})
	register("get_prompt", "Get one prompt by id.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			p, err := st.GetPrompt(ctx, id)
			if err != nil {
				return "", err
			}
			return toJSON(p)
		})
	register("create_prompt", "Create a prompt.",
		json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"integer"},"name":{"type":"string"},"content":{"type":"string"}},"required":["name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			p, err := st.CreatePrompt(ctx, optInt64(args, "project_id"), name, optString(args, "content"))
			if err != nil {
				return "", err
			}
			return toJSON(p)
		})
	register("update_prompt", "Update a prompt's name and content.",
		json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"},"content":{"type":"string"}},"required":["id","name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			if err := st.UpdatePrompt(ctx, id, name, optString(args, "content")); err != nil {
				return "", err
			}
			return okJSON(id)
		})
	register("run_prompt", "Execute a prompt against the configured model and return the completion.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			if deps.Provider == nil {
				return "", fmt.Errorf("no model provider configured")
			}
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			p, err := st.GetPrompt(ctx, id)
			if err != nil {
				return "", err
			}
			resp, err := deps.Provider.Generate(ctx, &llm.Request{
				Model:    deps.Model,
				Messages: []llm.Message{{Role: "user", Content: p.Content}},
			})
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		})
	register("delete_prompt", "Permanently delete a prompt.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.DeletePrompt(ctx, id); err != nil {
				return "", err
			}
			return okJSON(id)
		})

	register("list_workflows", "List all workflows.", emptySchema(),
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			items, err := st.ListWorkflows(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(items)
		})
	register("get_workflow", "Get one workflow by id.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			w, err := st.GetWorkflow(ctx, id)
			if err != nil {
				return "", err
			}
			return toJSON(w)
		})
	register("run_workflow", "Start a workflow run.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.SetWorkflowStatus(ctx, id, "running"); err != nil {
				return "", err
			}
			return okJSON(id)
		})
	register("cancel_workflow", "Cancel a running workflow.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.SetWorkflowStatus(ctx, id, "canceled"); err != nil {
				return "", err
			}
			return okJSON(id)
		})
	register("delete_workflow", "Permanently delete a workflow.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.DeleteWorkflow(ctx, id); err != nil {
				return "", err
			}
			return okJSON(id)
		})

	register("list_datasets", "List all datasets.", emptySchema(),
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			items, err := st.ListDatasets(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(items)
		})
	register("get_dataset", "Get one dataset by id.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			d, err := st.GetDataset(ctx, id)
			if err != nil {
				return "", err
			}
			return toJSON(d)
		})
	register("create_dataset", "Create a dataset.",
		json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"integer"},"name":{"type":"string"}},"required":["name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			d, err := st.CreateDataset(ctx, optInt64(args, "project_id"), name)
			if err != nil {
				return "", err
			}
			return toJSON(d)
		})
	register("update_dataset", "Rename a dataset.",
		json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"}},"required":["id","name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			if err := st.UpdateDataset(ctx, id, name); err != nil {
				return "", err
			}
			return okJSON(id)
		})
	register("delete_dataset", "Permanently delete a dataset.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.DeleteDataset(ctx, id); err != nil {
				return "", err
			}
			return okJSON(id)
		})

	register("list_tags", "List all tags.", emptySchema(),
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			items, err := st.ListTags(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(items)
		})
	register("create_tag", "Create a tag.",
		json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, err := argString(args, "name")
			if err != nil {
				return "", err
			}
			t, err := st.CreateTag(ctx, name)
			if err != nil {
				return "", err
			}
			return toJSON(t)
		})
	register("delete_tag", "Permanently delete a tag.", idSchema(),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argID(args)
			if err != nil {
				return "", err
			}
			if err := st.DeleteTag(ctx, id); err != nil {
				return "", err
			}
			return okJSON(id)
		})

	register("get_settings", "Get the current runtime settings.", emptySchema(),
		func(ctx context.Context, _ map[string]interface{}) (string, error) {
			set, err := st.GetSettings(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(set)
		})
	register("update_settings", "Update one runtime setting by key.",
		json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			key, err := argString(args, "key")
			if err != nil {
				return "", err
			}
			value, err := argString(args, "value")
			if err != nil {
				return "", err
			}
			if err := st.UpdateSetting(ctx, key, value); err != nil {
				return "", err
			}
			set, err := st.GetSettings(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(set)
		})

	register("list_tasks", "List background tasks, newest first.",
		json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"},"limit":{"type":"integer"}}}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			items, err := st.ListTasks(ctx, optString(args, "session_id"), int(optInt64(args, "limit")))
			if err != nil {
				return "", err
			}
			return toJSON(items)
		})
	register("get_task", "Get one background task by id.",
		json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			id, err := argString(args, "id")
			if err != nil {
				return "", err
			}
			t, err := st.GetTask(ctx, id)
			if err != nil {
				return "", err
			}
			return toJSON(t)
		})
	register("cancel_task", "Request cancellation of a running background task.",
		json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			if deps.Canceler == nil {
				return "", fmt.Errorf("no task runner configured")
			}
			id, err := argString(args, "id")
			if err != nil {
				return "", err
			}
			if !deps.Canceler.Cancel(id) {
				return "", fmt.Errorf("task %s is not running", id)
			}
			return `{"canceled":true,"id":` + strconv.Quote(id) + `}`, nil
		})
}

func toJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}

func okJSON(id int64) (string, error) {
	return fmt.Sprintf(`{"ok":true,"id":%d}`, id), nil
}

func argID(args map[string]interface{}) (int64, error) {
	return argInt64(args, "id")
}

func argInt64(args map[string]interface{}, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	n := optNum(v)
	if n == 0 {
		if _, isNum := v.(float64); !isNum {
			return 0, fmt.Errorf("argument %q must be a number", key)
		}
	}
	return n, nil
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func optString(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func optInt64(args map[string]interface{}, key string) int64 {
	return optNum(args[key])
}

// optNum converts the JSON number shapes tool arguments arrive in.
func optNum(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
