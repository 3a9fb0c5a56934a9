package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Rule-based classification: keyword tables per domain plus a numeric
// target-id extraction pattern. Japanese keywords first, English after.

var domainKeywords = map[Domain][]string{
	DomainProject:  {"プロジェクト", "project"},
	DomainPrompt:   {"プロンプト", "prompt"},
	DomainWorkflow: {"ワークフロー", "workflow", "フロー"},
	DomainDataset:  {"データセット", "dataset", "データ集合"},
	DomainTag:      {"タグ", "tag"},
	DomainSettings: {"設定", "セッティング", "setting", "config"},
	DomainTask:     {"タスク", "task", "ジョブ", "job"},
}

var actionKeywords = map[Action][]string{
	ActionDelete: {"削除", "消して", "消去", "破棄", "delete", "remove"},
	ActionCreate: {"作成", "作って", "新規", "追加", "create", "add", "new"},
	ActionUpdate: {"更新", "変更", "編集", "修正", "名前を", "update", "edit", "rename", "change"},
	ActionRun:    {"実行", "走らせ", "動かし", "試し", "run", "execute"},
	ActionCancel: {"中止", "キャンセル", "停止", "止めて", "cancel", "stop", "abort"},
	ActionList:   {"一覧", "リスト", "すべて", "全部", "見せて", "表示", "list", "show", "all"},
	ActionGet:    {"詳細", "内容", "確認", "教えて", "どうなって", "detail", "get", "describe"},
}

// targetIDPattern extracts a numeric target id ("ID:7", "#7", "7番").
var targetIDPattern = regexp.MustCompile(`(?i)(?:id[:：]?\s*|#|番号\s*)(\d{1,10})|(\d{1,10})\s*番`)

// bareNumberPattern is the fallback when the text contains exactly one
// number and a domain keyword already matched.
var bareNumberPattern = regexp.MustCompile(`\d{1,10}`)

// targetNamePattern extracts a quoted target name (「名前」, "name", 'name').
var targetNamePattern = regexp.MustCompile(`[「"']([^」"']{1,80})[」"']`)

// classifyByRules runs the keyword tables. Returns an out-of-scope intent
// when no domain keyword matches.
func classifyByRules(text string) *Intent {
	lower := strings.ToLower(text)

	var domain Domain
	bestScore := 0
	for d, words := range domainKeywords {
		score := 0
		for _, w := range words {
			if strings.Contains(lower, strings.ToLower(w)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			domain = d
		}
	}
	if bestScore == 0 {
		return &Intent{
			Domain:     DomainOutOfScope,
			Action:     ActionUnknown,
			Confidence: 0.3,
			Method:     MethodRules,
		}
	}

	action := ActionUnknown
	// Destructive and state-changing verbs are checked before list/get so
	// "削除一覧" style phrasing resolves to the stronger verb.
	for _, a := range []Action{ActionDelete, ActionCancel, ActionRun, ActionCreate, ActionUpdate, ActionList, ActionGet} {
		for _, w := range actionKeywords[a] {
			if strings.Contains(lower, strings.ToLower(w)) {
				action = a
				break
			}
		}
		if action != ActionUnknown {
			break
		}
	}
	if action == ActionUnknown {
		action = ActionList
	}

	it := &Intent{
		Domain:     domain,
		Action:     action,
		Confidence: 0.6,
		Method:     MethodRules,
	}
	it.TargetID = extractTargetID(text)
	if m := targetNamePattern.FindStringSubmatch(text); m != nil {
		it.TargetName = m[1]
	}
	deriveExec(it)
	return it
}

// extractTargetID pulls a numeric target id from text, preferring the
// explicit id patterns over a bare number.
func extractTargetID(text string) int64 {
	if m := targetIDPattern.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				id, err := strconv.ParseInt(g, 10, 64)
				if err == nil {
					return id
				}
			}
		}
	}
	nums := bareNumberPattern.FindAllString(text, 2)
	if len(nums) == 1 {
		id, err := strconv.ParseInt(nums[0], 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}

// Affirmative and negative confirmation replies.
var (
	affirmativePattern = regexp.MustCompile(`(?i)^\s*(はい|ええ|お願いします|実行して(ください)?|やって(ください)?|ok|okay|yes|y|sure|go ahead|confirm)\s*[。.!！]?\s*$`)
	negativePattern    = regexp.MustCompile(`(?i)^\s*(いいえ|いえ|やめて(ください)?|中止(して)?(ください)?|キャンセル(して)?(ください)?|だめ|no|n|stop|cancel|abort)\s*[。.!！]?\s*$`)
)

// ParseConfirmReply reports whether text is a confirmation reply to a
// pending destructive call, and if so whether it approves it. Only used
// when a pending confirmation exists.
func ParseConfirmReply(text string) (isReply, approve bool) {
	if affirmativePattern.MatchString(text) {
		return true, true
	}
	if negativePattern.MatchString(text) {
		return true, false
	}
	return false, false
}
