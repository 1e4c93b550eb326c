package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/safety"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// ShellTool executes whitelisted shell commands inside the workspace,
// gated by the safety guard.
type ShellTool struct {
	ws    *workspace.Layout
	guard *safety.Guard
	store *contextstore.Store

	// DefaultTimeout bounds commands with no per-call timeout.
	DefaultTimeout time.Duration

	// MaxTimeout caps per-call timeout overrides.
	MaxTimeout time.Duration

	// ArchiveThreshold triggers archival of oversized output.
	ArchiveThreshold int

	// PreviewLen is the preview size kept inline after archival.
	PreviewLen int
}

// NewShellTool builds the run_shell tool.
func NewShellTool(ws *workspace.Layout, guard *safety.Guard, store *contextstore.Store) *ShellTool {
	return &ShellTool{
		ws:               ws,
		guard:            guard,
		store:            store,
		DefaultTimeout:   30 * time.Second,
		MaxTimeout:       300 * time.Second,
		ArchiveThreshold: 15000,
		PreviewLen:       2000,
	}
}

func (t *ShellTool) Name() string { return "run_shell" }

func (t *ShellTool) Description() string {
	return "在项目目录中执行 shell 命令，返回 stdout/stderr 和退出码"
}

// ShellSchema declares the run_shell call signature.
func ShellSchema() Schema {
	return Schema{
		Name:        "run_shell",
		Description: "在项目目录中执行 shell 命令，返回 stdout/stderr 和退出码",
		Params: []Param{
			{
				Name: "command", Type: "string", Required: true,
				Description: "要执行的 shell 命令",
				Example:     "go test ./...",
				Aliases:     []string{"cmd", "shell_command", "script"},
			},
			{
				Name: "timeout", Type: "integer",
				Description: "超时秒数（默认 30，最大 300）",
				Default:     30,
				Aliases:     []string{"timeout_seconds"},
			},
		},
	}
}

// Execute runs the command after the guard approves it.
func (t *ShellTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	command, _ := params["command"].(string)
	if strings.TrimSpace(command) == "" {
		return Errorf("错误：command 参数为空"), nil
	}

	decision := t.guard.Check(command)
	if !decision.Allowed {
		var b strings.Builder
		fmt.Fprintf(&b, "命令被安全护栏拒绝：%s（风险等级: %s）", decision.Reason, decision.RiskLevel)
		if len(decision.Suggestions) > 0 {
			fmt.Fprintf(&b, "\n建议命令: %s", strings.Join(decision.Suggestions, ", "))
		}
		return &Result{Content: b.String(), IsError: true, Kind: contextstore.KindShellOutput}, nil
	}

	timeout := t.DefaultTimeout
	if raw, ok := params["timeout"]; ok {
		if secs := asInt(raw); secs > 0 {
			timeout = time.Duration(secs) * time.Second
			if timeout > t.MaxTimeout {
				timeout = t.MaxTimeout
			}
		}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = t.ws.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		return &Result{
			Content: fmt.Sprintf("执行超时（%s）: %s", timeout, command),
			IsError: true,
			Kind:    contextstore.KindShellOutput,
		}, nil
	}

	returncode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			returncode = exitErr.ExitCode()
		} else {
			return Errorf("命令启动失败: %v", runErr), nil
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "returncode: %d (耗时 %.1fs)\n", returncode, elapsed.Seconds())
	if out := stdout.String(); out != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", out)
	}
	if errOut := stderr.String(); errOut != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", errOut)
	}
	content := b.String()

	result := &Result{Content: content, IsError: returncode != 0, Kind: shellKind(command)}
	if len(content) > t.ArchiveThreshold && t.store != nil {
		identifier := command
		if len(identifier) > 40 {
			identifier = identifier[:40]
		}
		name := contextstore.ArchiveName(result.Kind, identifier)
		if rel, err := t.store.SaveLargeOutput([]byte(content), name); err == nil {
			result.ArchivePath = rel
			result.Content = archiveCitation(content, rel, t.PreviewLen)
		}
	}
	return result, nil
}

// shellKind classifies output for truncation thresholds: test runners get
// the test-output budget.
func shellKind(command string) contextstore.Kind {
	lower := strings.ToLower(command)
	for _, marker := range []string{"go test", "pytest", "npm test", "cargo test", "mvn test"} {
		if strings.Contains(lower, marker) {
			return contextstore.KindCodeOutput
		}
	}
	return contextstore.KindShellOutput
}

// archiveCitation renders the inline citation for an archived payload.
func archiveCitation(content, relPath string, previewLen int) string {
	preview := content
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	return fmt.Sprintf("输出过大，已归档: %s（%d 字节，hash %s）\n预览:\n%s",
		relPath, len(content), contextstore.ContentHash([]byte(content)), preview)
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		var n int
		_, err := fmt.Sscanf(t, "%d", &n)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
