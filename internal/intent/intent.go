// Package intent maps natural-language user text to a (domain, action)
// pair with confidence and an optional target. Resolution is layered:
// the security pre-filter short-circuits threats, a feature-flagged
// model-assisted layer handles free phrasing, and a rule-based keyword
// layer is the always-available fallback. A fixed lookup derives
// execution metadata (permission level, suggested tools) so the
// classifier itself stays free of execution concerns.
package intent

// Domain is the top-level resource category an intent targets.
type Domain string

const (
	DomainProject    Domain = "project"
	DomainPrompt     Domain = "prompt"
	DomainWorkflow   Domain = "workflow"
	DomainDataset    Domain = "dataset"
	DomainTag        Domain = "tag"
	DomainSettings   Domain = "settings"
	DomainTask       Domain = "task"
	DomainOutOfScope Domain = "out_of_scope"
)

// Action is the operation requested within a domain.
type Action string

const (
	ActionList    Action = "list"
	ActionGet     Action = "get"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionRun     Action = "run"
	ActionCancel  Action = "cancel"
	ActionConfirm Action = "confirm"
	ActionUnknown Action = "unknown"
)

// PermissionLevel is the execution gate derived from (domain, action).
type PermissionLevel string

const (
	PermReadOnly    PermissionLevel = "read_only"
	PermDestructive PermissionLevel = "destructive"
	PermBlocked     PermissionLevel = "blocked"
)

// Classification methods recorded on the intent.
const (
	MethodSecurity = "security"
	MethodModel    = "model"
	MethodRules    = "rules"
)

// Intent is the resolved interpretation of one user message.
type Intent struct {
	Domain         Domain          `json:"domain"`
	Action         Action          `json:"action"`
	Confidence     float64         `json:"confidence"`
	TargetID       int64           `json:"target_id,omitempty"` // 0 = none
	TargetName     string          `json:"target_name,omitempty"`
	Permission     PermissionLevel `json:"permission"`
	SuggestedTools []string        `json:"suggested_tools,omitempty"`
	Method         string          `json:"method"`
}

// IsAllowed reports whether the turn may proceed to the tool loop.
func (i *Intent) IsAllowed() bool {
	return i.Domain != DomainOutOfScope && i.Permission != PermBlocked
}

type execMeta struct {
	perm  PermissionLevel
	tools []string
}

// execTable is the fixed (domain, action) → execution metadata lookup.
// Destructive here mirrors the policy tiering: hard deletes only.
var execTable = map[Domain]map[Action]execMeta{
	DomainProject: {
		ActionList:   {PermReadOnly, []string{"list_projects"}},
		ActionGet:    {PermReadOnly, []string{"get_project"}},
		ActionCreate: {PermReadOnly, []string{"create_project"}},
		ActionUpdate: {PermReadOnly, []string{"update_project", "get_project"}},
		ActionDelete: {PermDestructive, []string{"delete_project", "get_project"}},
	},
	DomainPrompt: {
		ActionList:   {PermReadOnly, []string{"list_prompts"}},
		ActionGet:    {PermReadOnly, []string{"get_prompt"}},
		ActionCreate: {PermReadOnly, []string{"create_prompt"}},
		ActionUpdate: {PermReadOnly, []string{"update_prompt", "get_prompt"}},
		ActionRun:    {PermReadOnly, []string{"run_prompt", "get_prompt"}},
		ActionDelete: {PermDestructive, []string{"delete_prompt", "get_prompt"}},
	},
	DomainWorkflow: {
		ActionList:   {PermReadOnly, []string{"list_workflows"}},
		ActionGet:    {PermReadOnly, []string{"get_workflow"}},
		ActionRun:    {PermReadOnly, []string{"run_workflow", "get_workflow"}},
		ActionCancel: {PermReadOnly, []string{"cancel_workflow"}},
		ActionDelete: {PermDestructive, []string{"delete_workflow", "get_workflow"}},
	},
	DomainDataset: {
		ActionList:   {PermReadOnly, []string{"list_datasets"}},
		ActionGet:    {PermReadOnly, []string{"get_dataset"}},
		ActionCreate: {PermReadOnly, []string{"create_dataset"}},
		ActionUpdate: {PermReadOnly, []string{"update_dataset", "get_dataset"}},
		ActionDelete: {PermDestructive, []string{"delete_dataset", "get_dataset"}},
	},
	DomainTag: {
		ActionList:   {PermReadOnly, []string{"list_tags"}},
		ActionCreate: {PermReadOnly, []string{"create_tag"}},
		ActionDelete: {PermDestructive, []string{"delete_tag", "list_tags"}},
	},
	DomainSettings: {
		ActionGet:    {PermReadOnly, []string{"get_settings"}},
		ActionUpdate: {PermReadOnly, []string{"update_settings", "get_settings"}},
	},
	DomainTask: {
		ActionList:   {PermReadOnly, []string{"list_tasks"}},
		ActionGet:    {PermReadOnly, []string{"get_task"}},
		ActionCancel: {PermReadOnly, []string{"cancel_task", "get_task"}},
	},
}

// deriveExec fills Permission and SuggestedTools from the lookup.
// Combinations outside the table are blocked, and out-of-scope intents
// carry no execution metadata at all.
func deriveExec(it *Intent) {
	if it.Domain == DomainOutOfScope {
		it.Permission = PermBlocked
		return
	}
	if actions, ok := execTable[it.Domain]; ok {
		if meta, ok := actions[it.Action]; ok {
			it.Permission = meta.perm
			it.SuggestedTools = meta.tools
			return
		}
	}
	it.Permission = PermBlocked
}

// knownDomains and knownActions define the closed label sets given to the
// model-assisted layer and used to validate its output.
var knownDomains = map[Domain]bool{
	DomainProject: true, DomainPrompt: true, DomainWorkflow: true,
	DomainDataset: true, DomainTag: true, DomainSettings: true,
	DomainTask: true, DomainOutOfScope: true,
}

var knownActions = map[Action]bool{
	ActionList: true, ActionGet: true, ActionCreate: true,
	ActionUpdate: true, ActionDelete: true, ActionRun: true,
	ActionCancel: true, ActionConfirm: true, ActionUnknown: true,
}
