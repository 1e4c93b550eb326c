// Package safety classifies shell commands before execution. Commands are
// checked against dangerous patterns, a command whitelist, per-command
// special rules, and the shared workspace path rule.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/haasonsaas/aacode/internal/workspace"
)

// RiskLevel classifies a command.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskWarning   RiskLevel = "warning"
	RiskDangerous RiskLevel = "dangerous"
	RiskUnknown   RiskLevel = "unknown"
)

// Decision is the outcome of checking one command.
type Decision struct {
	// Allowed reports whether the command may be executed.
	Allowed bool `json:"allowed"`

	// Reason explains the decision in user-facing terms.
	Reason string `json:"reason"`

	// RiskLevel is the classification that produced the decision.
	RiskLevel RiskLevel `json:"risk_level"`

	// NeedsConfirmation indicates a human should approve before running.
	NeedsConfirmation bool `json:"needs_confirmation"`

	// Suggestions lists close whitelist entries for unknown commands.
	Suggestions []string `json:"suggestions,omitempty"`
}

// ConfirmFunc asks a human to approve a warning-level command.
type ConfirmFunc func(command, reason string) bool

// Guard gates shell execution for one project workspace.
type Guard struct {
	ws          *workspace.Layout
	interactive bool
	confirm     ConfirmFunc
	logger      *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithInteractive enables deferring warning decisions to the confirm callback.
func WithInteractive(confirm ConfirmFunc) Option {
	return func(g *Guard) {
		g.interactive = true
		g.confirm = confirm
	}
}

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// New creates a guard for the given workspace.
func New(ws *workspace.Layout, opts ...Option) *Guard {
	g := &Guard{ws: ws}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// dangerousPatterns match commands that are rejected on sight, before any
// tokenization.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\b.*\bof=/dev/`),
	regexp.MustCompile(`\b(shutdown|halt|poweroff|reboot|init\s+0)\b`),
	regexp.MustCompile(`\biptables\b.*(-F|--flush)`),
	regexp.MustCompile(`\bufw\s+disable\b`),
	regexp.MustCompile(`:\(\)\s*{\s*:\s*\|\s*:\s*&\s*}\s*;`),
	regexp.MustCompile(`\b(chmod|chown)\b.*\s(/etc|/usr|/bin|/sbin|/boot|/var)(/|\s|$)`),
	regexp.MustCompile(`\brm\b.*-\w*[rf]\w*[rf]\w*\s+/\s*$`),
	regexp.MustCompile(`\brm\s+(-\w+\s+)*/(\s|$)`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
}

// Check classifies a shell command and decides whether it may run.
func (g *Guard) Check(command string) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Decision{RiskLevel: RiskDangerous, Reason: "empty command"}
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(trimmed) {
			g.logger.Warn("command rejected by dangerous pattern", "command", trimmed)
			return Decision{
				RiskLevel: RiskDangerous,
				Reason:    fmt.Sprintf("command matches dangerous pattern %q", pattern.String()),
			}
		}
	}

	tokens, err := Tokenize(trimmed)
	if err != nil || len(tokens) == 0 {
		return Decision{
			RiskLevel: RiskDangerous,
			Reason:    fmt.Sprintf("command could not be parsed: %v", err),
		}
	}

	name := NormalizeCommand(tokens[0])
	if !whitelisted[name] {
		return Decision{
			RiskLevel:   RiskUnknown,
			Reason:      fmt.Sprintf("command %q is not in the whitelist", name),
			Suggestions: SuggestCommands(name, 3),
		}
	}

	if d, ok := g.specialRules(name, tokens, trimmed); ok {
		return d
	}

	if d, ok := g.checkPathArguments(name, tokens); ok {
		return d
	}

	return Decision{Allowed: true, RiskLevel: RiskSafe, Reason: "whitelisted command"}
}

// specialRules applies per-command policy. The second return value is false
// when no special rule claims the command.
func (g *Guard) specialRules(name string, tokens []string, raw string) (Decision, bool) {
	switch name {
	case "rm":
		if !hasRecursiveForce(tokens) {
			return Decision{}, false
		}
		for _, arg := range tokens[1:] {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			if !g.ws.Contains(arg) {
				return Decision{
					RiskLevel: RiskDangerous,
					Reason:    "不能删除项目目录外的文件",
				}, true
			}
		}
		return Decision{Allowed: true, RiskLevel: RiskWarning,
			Reason: "recursive delete confined to project root"}, true

	case "sudo":
		if len(tokens) < 2 {
			return Decision{RiskLevel: RiskDangerous, Reason: "bare sudo is not permitted"}, true
		}
		sub := NormalizeCommand(tokens[1])
		if !sudoAllowed[sub] {
			return Decision{
				RiskLevel: RiskDangerous,
				Reason:    fmt.Sprintf("sudo is only permitted for %v", sudoAllowedList()),
			}, true
		}
		return g.warn(raw, "sudo "+sub), true

	case "chmod":
		if containsToken(tokens, "777") {
			for _, arg := range tokens[1:] {
				if strings.HasPrefix(arg, "-") || arg == "777" {
					continue
				}
				if !g.ws.Contains(arg) {
					return Decision{RiskLevel: RiskDangerous,
						Reason: "chmod 777 outside project root"}, true
				}
			}
			d := g.warn(raw, "chmod 777 on project paths")
			d.NeedsConfirmation = true
			return d, true
		}
		return Decision{}, false
	}

	if isPackageInstall(name, tokens) {
		return g.warn(raw, fmt.Sprintf("package install via %s", name)), true
	}
	return Decision{}, false
}

// checkPathArguments enforces the shared path rule on path-like arguments.
// Read-only inspectors are exempt.
func (g *Guard) checkPathArguments(name string, tokens []string) (Decision, bool) {
	if readOnlyInspectors[name] {
		return Decision{}, false
	}
	for _, arg := range tokens[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if !looksLikePath(arg) {
			continue
		}
		if !g.ws.IsSafePath(arg) {
			return Decision{
				RiskLevel: RiskDangerous,
				Reason:    fmt.Sprintf("path %q is outside the project root and not in the read-only allow list", arg),
			}, true
		}
	}
	return Decision{}, false
}

// warn produces a warning-level decision, resolved per the interaction mode.
func (g *Guard) warn(command, what string) Decision {
	if g.interactive && g.confirm != nil {
		approved := g.confirm(command, what)
		return Decision{
			Allowed:           approved,
			RiskLevel:         RiskWarning,
			Reason:            what,
			NeedsConfirmation: true,
		}
	}
	return Decision{
		Allowed:   true,
		RiskLevel: RiskWarning,
		Reason:    what + " (auto-approved in non-interactive mode)",
	}
}

func hasRecursiveForce(tokens []string) bool {
	var r, f bool
	for _, tok := range tokens[1:] {
		switch {
		case tok == "--recursive":
			r = true
		case tok == "--force":
			f = true
		case strings.HasPrefix(tok, "-") && !strings.HasPrefix(tok, "--"):
			if strings.ContainsAny(tok, "rR") {
				r = true
			}
			if strings.Contains(tok, "f") {
				f = true
			}
		}
	}
	return r && f
}

func containsToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}

func looksLikePath(arg string) bool {
	return strings.HasPrefix(arg, "/") || strings.Contains(arg, "..")
}

var installSubcommands = map[string]bool{
	"install": true, "add": true, "upgrade": true, "update": true,
}

var packageManagers = map[string]bool{
	"apt": true, "apt-get": true, "yum": true, "dnf": true, "pacman": true,
	"brew": true, "pip": true, "npm": true, "yarn": true, "pnpm": true,
	"cargo": true, "gem": true, "go": true,
}

func isPackageInstall(name string, tokens []string) bool {
	if !packageManagers[name] || len(tokens) < 2 {
		return false
	}
	return installSubcommands[tokens[1]]
}

// SuggestCommands returns up to n whitelist entries within edit distance 2
// of name, closest first.
func SuggestCommands(name string, n int) []string {
	type candidate struct {
		name string
		dist int
	}
	var matches []candidate
	for _, cmd := range whitelistOrdered {
		d := levenshtein.ComputeDistance(name, cmd)
		if d <= 2 {
			matches = append(matches, candidate{cmd, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	out := make([]string, 0, n)
	for _, c := range matches {
		if len(out) == n {
			break
		}
		out = append(out, c.name)
	}
	return out
}
