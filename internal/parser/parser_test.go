package parser

import (
	"strings"
	"testing"
)

func TestParseFencedJSON(t *testing.T) {
	response := "Here is my plan.\n```json\n" +
		`{"thought": "read the config first", "actions": [` +
		`{"action": "read_file", "action_input": {"path": "config.yaml"}}]}` +
		"\n```\n"
	thought, actions := Parse(response)
	if thought != "read the config first" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 || actions[0].Action != "read_file" {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].Input["path"] != "config.yaml" {
		t.Errorf("input = %v", actions[0].Input)
	}
}

func TestParseFenceVariants(t *testing.T) {
	for _, fence := range []string{"```JSON", "```json", "```"} {
		response := fence + "\n" +
			`{"thinking": "ok", "action": "list_files", "action_input": {}}` +
			"\n```"
		thought, actions := Parse(response)
		if thought != "ok" || len(actions) != 1 || actions[0].Action != "list_files" {
			t.Errorf("fence %q: thought=%q actions=%+v", fence, thought, actions)
		}
	}
}

func TestParseBareJSON(t *testing.T) {
	response := `I will proceed. {"thought": "run the tests", "action": "run_shell", "action_input": {"command": "go test ./..."}} Done.`
	thought, actions := Parse(response)
	if thought != "run the tests" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 || actions[0].Input["command"] != "go test ./..." {
		t.Errorf("actions = %+v", actions)
	}
}

func TestParseTrailingCommaRepaired(t *testing.T) {
	response := "```json\n" +
		`{"thought": "edit", "actions": [{"action": "edit_file", "action_input": {"path": "a.go",}},]}` +
		"\n```"
	thought, actions := Parse(response)
	if thought != "edit" || len(actions) != 1 {
		t.Fatalf("thought=%q actions=%+v", thought, actions)
	}
	if actions[0].Input["path"] != "a.go" {
		t.Errorf("input = %v", actions[0].Input)
	}
}

func TestParseLabeledText(t *testing.T) {
	response := strings.Join([]string{
		"Thought: inspect the failing test",
		"Action: read_file",
		`Action Input: {"path": "parser_test.go"}`,
	}, "\n")
	thought, actions := Parse(response)
	if thought != "inspect the failing test" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 || actions[0].Action != "read_file" {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].Input["path"] != "parser_test.go" {
		t.Errorf("input = %v", actions[0].Input)
	}
}

func TestParseMultilineActionInput(t *testing.T) {
	response := strings.Join([]string{
		"Thought: write the config",
		"Action: write_file",
		"Action Input:",
		"{",
		`  "path": "config.yaml",`,
		`  "content": "provider: openai"`,
		"}",
	}, "\n")
	_, actions := Parse(response)
	if len(actions) != 1 || actions[0].Action != "write_file" {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].Input["path"] != "config.yaml" {
		t.Errorf("input = %v", actions[0].Input)
	}
	if actions[0].Input["content"] != "provider: openai" {
		t.Errorf("input = %v", actions[0].Input)
	}
}

func TestParseMultilineActionInputUnbalanced(t *testing.T) {
	response := strings.Join([]string{
		"Action: write_file",
		"Action Input:",
		"{",
		`  "path": "config.yaml",`,
	}, "\n")
	_, actions := Parse(response)
	if len(actions) != 1 {
		t.Fatalf("actions = %+v", actions)
	}
	if msg, bad := actions[0].InputError(); !bad {
		t.Errorf("unbalanced input silently accepted: %v", actions[0].Input)
	} else if !strings.Contains(msg, "不是合法 JSON") {
		t.Errorf("error = %q", msg)
	}
}

func TestParseMultilineActionInputStopsAtNextLabel(t *testing.T) {
	response := strings.Join([]string{
		"Action 1: read_file",
		"Action Input 1:",
		"{",
		`  "path": "a.go"`,
		"}",
		"Action 2: list_files",
		`Action Input 2: {"path": "."}`,
	}, "\n")
	_, actions := Parse(response)
	if len(actions) != 2 {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].Input["path"] != "a.go" || actions[1].Input["path"] != "." {
		t.Errorf("inputs = %v / %v", actions[0].Input, actions[1].Input)
	}
}

func TestParseChineseLabels(t *testing.T) {
	response := strings.Join([]string{
		"思考：先查看目录结构",
		"动作：list_files",
		"输入：{\"path\": \".\"}",
	}, "\n")
	thought, actions := Parse(response)
	if thought != "先查看目录结构" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 || actions[0].Action != "list_files" {
		t.Fatalf("actions = %+v", actions)
	}
}

func TestParseNumberedActions(t *testing.T) {
	response := strings.Join([]string{
		"Thought: two edits",
		"Action 1: read_file",
		"Action 2: write_file",
		`Action Input 2: {"path": "b.go", "content": "x"}`,
		`Action Input 1: {"path": "a.go"}`,
	}, "\n")
	_, actions := Parse(response)
	if len(actions) != 2 {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].Input["path"] != "a.go" {
		t.Errorf("action 1 input = %v", actions[0].Input)
	}
	if actions[1].Input["path"] != "b.go" {
		t.Errorf("action 2 input = %v", actions[1].Input)
	}
}

func TestParsePlainTextInputWrapped(t *testing.T) {
	response := "Thought: ask\nAction: run_shell\nAction Input: ls -la"
	_, actions := Parse(response)
	if len(actions) != 1 {
		t.Fatal("no action")
	}
	if actions[0].Input["input"] != "ls -la" {
		t.Errorf("input = %v", actions[0].Input)
	}
}

func TestParseBrokenInputKeepsActionWithError(t *testing.T) {
	response := "Thought: x\nAction: read_file\nAction Input: {\"path\": broken"
	_, actions := Parse(response)
	if len(actions) != 1 {
		t.Fatal("action dropped on broken input")
	}
	if msg, ok := actions[0].InputError(); !ok || msg == "" {
		t.Errorf("no _error recorded: %v", actions[0].Input)
	}
}

func TestParseFallbackThought(t *testing.T) {
	long := strings.Repeat("analysis without labels ", 40)
	thought, actions := Parse(long)
	if len(actions) != 0 {
		t.Errorf("actions = %+v", actions)
	}
	if len(thought) > 500 {
		t.Errorf("fallback thought length = %d", len(thought))
	}
	if !strings.HasPrefix(long, thought) {
		t.Error("fallback thought not a prefix of the response")
	}
}

func TestParseEmptyResponse(t *testing.T) {
	thought, actions := Parse("")
	if thought != "" || len(actions) != 0 {
		t.Errorf("thought=%q actions=%+v", thought, actions)
	}
}

func TestParseMergesJSONActionsWithTextThought(t *testing.T) {
	response := "Thought: use the registry\n" +
		`{"action": "list_files", "action_input": {}}`
	thought, actions := Parse(response)
	if thought != "use the registry" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 || actions[0].Action != "list_files" {
		t.Errorf("actions = %+v", actions)
	}
}

func TestRepairJSONMarkdownResidue(t *testing.T) {
	candidate := "```json\n{\"thought\": \"**bold claim**\", \"action\": \"x\", \"action_input\": {}}\n```"
	thought, actions, ok := adoptObject(candidate)
	if !ok {
		t.Fatal("repaired object rejected")
	}
	if thought != "bold claim" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 {
		t.Errorf("actions = %+v", actions)
	}
}

func TestBalancedObjectSkipsBracesInStrings(t *testing.T) {
	response := `prefix {"thought": "braces { in } strings", "action": "run_shell", "action_input": {"command": "echo {}"}}`
	thought, actions := Parse(response)
	if thought != "braces { in } strings" {
		t.Errorf("thought = %q", thought)
	}
	if len(actions) != 1 || actions[0].Input["command"] != "echo {}" {
		t.Errorf("actions = %+v", actions)
	}
}
