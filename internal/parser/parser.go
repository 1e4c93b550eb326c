// Package parser extracts a thought and a list of tool actions from raw
// model output. Models emit JSON in fences, bare JSON, labeled text, or a
// mixture; every strategy is tried and complementary results are merged.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/aacode/pkg/models"
)

// fallbackThoughtLimit bounds the thought when no label or JSON is found.
const fallbackThoughtLimit = 500

// thoughtKeys are accepted spellings of the thought field in JSON output.
var thoughtKeys = []string{"thought", "thinking", "reasoning"}

var (
	fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*\\n?(.*?)```")

	thoughtLabelRe = regexp.MustCompile(`(?i)^\s*(?:Thought|思考)\s*[:：]\s*(.*)$`)
	actionLabelRe  = regexp.MustCompile(`(?i)^\s*(?:Action|动作)\s*(\d*)\s*[:：]\s*(.*)$`)
	inputLabelRe   = regexp.MustCompile(`(?i)^\s*(?:Action\s*Input|输入)\s*(\d*)\s*[:：]\s*(.*)$`)

	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	boldRe          = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// Parse extracts the thought and the requested actions from a model
// response. Empty actions mean the model declared no further work.
func Parse(response string) (string, []models.ActionItem) {
	jsonThought, jsonActions := parseJSON(response)
	textThought, textActions := parseText(response)

	thought := jsonThought
	if thought == "" {
		thought = textThought
	}
	actions := jsonActions
	if len(actions) == 0 {
		actions = textActions
	}

	if thought == "" {
		thought = fallbackThought(response)
	}
	return thought, actions
}

// parseJSON tries fenced JSON blocks first, then the first balanced object
// containing a thought key.
func parseJSON(response string) (string, []models.ActionItem) {
	for _, m := range fenceRe.FindAllStringSubmatch(response, -1) {
		if thought, actions, ok := adoptObject(m[1]); ok {
			return thought, actions
		}
	}
	if block := firstBalancedObject(response); block != "" {
		if thought, actions, ok := adoptObject(block); ok {
			return thought, actions
		}
	}
	return "", nil
}

// adoptObject parses candidate as a JSON object and accepts it when it
// carries a thought key, an action key, or both.
func adoptObject(candidate string) (string, []models.ActionItem, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(repairJSON(candidate)), &obj); err != nil {
		return "", nil, false
	}

	thought := ""
	for _, key := range thoughtKeys {
		if v, ok := obj[key].(string); ok && v != "" {
			thought = v
			break
		}
	}

	var actions []models.ActionItem
	if list, ok := obj["actions"].([]any); ok {
		for _, raw := range list {
			if item, ok := raw.(map[string]any); ok {
				if a, ok := adoptAction(item); ok {
					actions = append(actions, a)
				}
			}
		}
	} else if a, ok := adoptAction(obj); ok {
		actions = append(actions, a)
	}

	if thought == "" && len(actions) == 0 {
		return "", nil, false
	}
	return thought, actions, true
}

// adoptAction reads {action, action_input} out of one object.
func adoptAction(obj map[string]any) (models.ActionItem, bool) {
	name, _ := obj["action"].(string)
	if name == "" {
		return models.ActionItem{}, false
	}
	item := models.ActionItem{Action: name}
	switch input := obj["action_input"].(type) {
	case map[string]any:
		item.Input = input
	case nil:
		item.Input = map[string]any{}
	case string:
		item.Input = parseInputText(input)
	default:
		item.Input = map[string]any{"input": input}
	}
	return item, true
}

// textAction is an Action line awaiting its Action Input during the label
// scan.
type textAction struct {
	item   models.ActionItem
	number int
	filled bool
}

// parseText scans labeled lines: Thought:/Action:/Action Input: plus the
// Chinese aliases, with optional numeric suffixes. Each action is paired
// with the matching-numbered input, or the nearest following one.
func parseText(response string) (string, []models.ActionItem) {
	var thoughtParts []string
	var actions []*textAction

	lines := strings.Split(response, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := inputLabelRe.FindStringSubmatch(line); m != nil {
			value := m[2]
			if strings.TrimSpace(value) == "" {
				value, i = collectInputBlock(lines, i)
			}
			assignInput(actions, parseNumber(m[1]), value)
			continue
		}
		if m := actionLabelRe.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[2])
			if name == "" {
				continue
			}
			actions = append(actions, &textAction{
				item:   models.ActionItem{Action: name, Input: map[string]any{}},
				number: parseNumber(m[1]),
			})
			continue
		}
		if m := thoughtLabelRe.FindStringSubmatch(line); m != nil {
			if part := strings.TrimSpace(m[1]); part != "" {
				thoughtParts = append(thoughtParts, part)
			}
			continue
		}
	}

	out := make([]models.ActionItem, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.item)
	}
	if len(out) == 0 {
		out = nil
	}
	return strings.Join(thoughtParts, "\n"), out
}

// collectInputBlock gathers the JSON object following a bare Action Input
// label. Returns the collected text and the index of the last consumed
// line. An unbalanced object is collected up to the next label so the
// parse failure surfaces through _error instead of silently dropping the
// parameters.
func collectInputBlock(lines []string, labelIdx int) (string, int) {
	j := labelIdx + 1
	for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
		j++
	}
	if j >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[j]), "{") {
		return "", labelIdx
	}

	rest := strings.Join(lines[j:], "\n")
	open := strings.IndexByte(rest, '{')
	if block := balancedFrom(rest, open); block != "" {
		consumed := strings.Count(rest[:open+len(block)], "\n")
		return block, j + consumed
	}

	end := len(lines)
	for k := j + 1; k < len(lines); k++ {
		if actionLabelRe.MatchString(lines[k]) || inputLabelRe.MatchString(lines[k]) ||
			thoughtLabelRe.MatchString(lines[k]) {
			end = k
			break
		}
	}
	return strings.Join(lines[j:end], "\n"), end - 1
}

// assignInput attaches an Action Input value to its action: by matching
// number when both sides are numbered, otherwise to the earliest action
// still waiting for input.
func assignInput(actions []*textAction, number int, value string) {
	var target *textAction
	if number > 0 {
		for _, a := range actions {
			if a.number == number && !a.filled {
				target = a
				break
			}
		}
	}
	if target == nil {
		for _, a := range actions {
			if !a.filled {
				target = a
				break
			}
		}
	}
	if target == nil {
		return
	}
	target.filled = true
	target.item.Input = parseInputText(value)
}

// parseInputText interprets an Action Input value: JSON when it opens with
// a brace, plain text otherwise. A failed JSON parse keeps the action but
// records the error under _error.
func parseInputText(value string) map[string]any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return map[string]any{}
	}
	if strings.HasPrefix(trimmed, "{") {
		var input map[string]any
		if err := json.Unmarshal([]byte(repairJSON(trimmed)), &input); err != nil {
			return map[string]any{
				"_error": fmt.Sprintf("action_input 不是合法 JSON: %v", err),
				"input":  trimmed,
			}
		}
		return input
	}
	return map[string]any{"input": trimmed}
}

// repairJSON fixes the recurring model mistakes before a parse attempt:
// trailing commas, markdown bold residue, stray fences.
func repairJSON(candidate string) string {
	out := strings.TrimSpace(candidate)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	out = boldRe.ReplaceAllString(out, "$1")
	out = trailingCommaRe.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

// firstBalancedObject returns the first brace-balanced block that mentions
// a thought or action key, scanning with string awareness.
func firstBalancedObject(response string) string {
	keys := append([]string{"action"}, thoughtKeys...)
	for start := 0; start < len(response); start++ {
		if response[start] != '{' {
			continue
		}
		block := balancedFrom(response, start)
		if block == "" {
			continue
		}
		for _, key := range keys {
			if strings.Contains(block, `"`+key+`"`) {
				return block
			}
		}
		// Skip past this block; nested objects were already covered.
		start += len(block) - 1
	}
	return ""
}

func balancedFrom(s string, start int) string {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func parseNumber(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// fallbackThought is the response head used when nothing labeled was found.
func fallbackThought(response string) string {
	trimmed := strings.TrimSpace(response)
	if len(trimmed) <= fallbackThoughtLimit {
		return trimmed
	}
	cut := fallbackThoughtLimit
	for cut > 0 && trimmed[cut]&0xC0 == 0x80 {
		cut--
	}
	return trimmed[:cut]
}
