package policy

import (
	"github.com/rs/zerolog/log"
)

// Tier is the permission classification of a tool.
//
// The split is deliberately two-tier, not three: READ_ONLY covers reads,
// creates, updates, executes, and cancels — anything the platform can
// undo — while DESTRUCTIVE covers hard deletes only. This keeps the agent
// useful without confirmation fatigue while bounding risk to undoable
// mistakes.
type Tier string

const (
	TierReadOnly    Tier = "READ_ONLY"
	TierDestructive Tier = "DESTRUCTIVE"
)

// permissionTable is the static tool → tier table. Every tool the agent
// may call is listed; hard deletes are the only DESTRUCTIVE entries.
var permissionTable = map[string]Tier{
	// projects
	"list_projects":  TierReadOnly,
	"get_project":    TierReadOnly,
	"create_project": TierReadOnly,
	"update_project": TierReadOnly,
	"delete_project": TierDestructive,

	// prompts
	"list_prompts":  TierReadOnly,
	"get_prompt":    TierReadOnly,
	"create_prompt": TierReadOnly,
	"update_prompt": TierReadOnly,
	"run_prompt":    TierReadOnly,
	"delete_prompt": TierDestructive,

	// workflows
	"list_workflows":  TierReadOnly,
	"get_workflow":    TierReadOnly,
	"run_workflow":    TierReadOnly,
	"cancel_workflow": TierReadOnly,
	"delete_workflow": TierDestructive,

	// datasets
	"list_datasets":  TierReadOnly,
	"get_dataset":    TierReadOnly,
	"create_dataset": TierReadOnly,
	"update_dataset": TierReadOnly,
	"delete_dataset": TierDestructive,

	// tags
	"list_tags":  TierReadOnly,
	"create_tag": TierReadOnly,
	"delete_tag": TierDestructive,

	// settings and tasks
	"get_settings":    TierReadOnly,
	"update_settings": TierReadOnly,
	"list_tasks":      TierReadOnly,
	"get_task":        TierReadOnly,
	"cancel_task":     TierReadOnly,
}

// publicLabels maps internal tool names to the labels shown to users.
// The output filter uses the same map to mask tool names in model output,
// so labels must never themselves be internal tool names.
var publicLabels = map[string]string{
	"list_projects":   "プロジェクト一覧",
	"get_project":     "プロジェクト参照",
	"create_project":  "プロジェクト作成",
	"update_project":  "プロジェクト更新",
	"delete_project":  "プロジェクト削除",
	"list_prompts":    "プロンプト一覧",
	"get_prompt":      "プロンプト参照",
	"create_prompt":   "プロンプト作成",
	"update_prompt":   "プロンプト更新",
	"run_prompt":      "プロンプト実行",
	"delete_prompt":   "プロンプト削除",
	"list_workflows":  "ワークフロー一覧",
	"get_workflow":    "ワークフロー参照",
	"run_workflow":    "ワークフロー実行",
	"cancel_workflow": "ワークフロー中止",
	"delete_workflow": "ワークフロー削除",
	"list_datasets":   "データセット一覧",
	"get_dataset":     "データセット参照",
	"create_dataset":  "データセット作成",
	"update_dataset":  "データセット更新",
	"delete_dataset":  "データセット削除",
	"list_tags":       "タグ一覧",
	"create_tag":      "タグ作成",
	"delete_tag":      "タグ削除",
	"get_settings":    "設定参照",
	"update_settings": "設定更新",
	"list_tasks":      "タスク一覧",
	"get_task":        "タスク参照",
	"cancel_task":     "タスク中止",
}

// ClassifyTool returns the permission tier for a tool and whether the
// tool is known. Unknown tools fall back to the cautious non-deny tier
// and are logged as anomalies; whether they should hard-fail instead is
// an engine policy parameter (UnknownToolDeny).
func ClassifyTool(name string) (Tier, bool) {
	tier, ok := permissionTable[name]
	if !ok {
		log.Warn().Str("tool", name).Msg("unknown_tool_classification")
		return TierReadOnly, false
	}
	return tier, true
}

// PublicLabel returns the user-facing label for a tool, or the name
// itself for tools without a registered label.
func PublicLabel(name string) string {
	if l, ok := publicLabels[name]; ok {
		return l
	}
	return name
}

// PublicLabels returns a copy of the internal-name → public-label map
// for the output filter.
func PublicLabels() map[string]string {
	m := make(map[string]string, len(publicLabels))
	for k, v := range publicLabels {
		m[k] = v
	}
	return m
}

// KnownTools returns the names in the permission table. Order is not
// defined.
func KnownTools() []string {
	names := make([]string, 0, len(permissionTable))
	for n := range permissionTable {
		names = append(names, n)
	}
	return names
}
