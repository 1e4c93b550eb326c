package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/safety"
	"github.com/haasonsaas/aacode/internal/workspace"
)

func newToolEnv(t *testing.T) (*workspace.Layout, *safety.Guard, *contextstore.Store) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	store, err := contextstore.New(ws, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ws, safety.New(ws), store
}

func TestShellToolRunsCommand(t *testing.T) {
	ws, guard, store := newToolEnv(t)
	tool := NewShellTool(ws, guard, store)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("echo failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "returncode: 0") || !strings.Contains(res.Content, "hello") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestShellToolSafetyRejection(t *testing.T) {
	ws, guard, store := newToolEnv(t)
	tool := NewShellTool(ws, guard, store)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("dangerous command not rejected")
	}
	if !strings.HasPrefix(res.Content, "命令被安全护栏拒绝") {
		t.Errorf("content = %s", res.Content)
	}
	if strings.Contains(res.Content, "returncode") {
		t.Errorf("rejection leaked a returncode: %s", res.Content)
	}
}

func TestShellToolNonZeroExit(t *testing.T) {
	ws, guard, store := newToolEnv(t)
	tool := NewShellTool(ws, guard, store)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "false"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "returncode: 1") {
		t.Errorf("content = %s, IsError = %v", res.Content, res.IsError)
	}
}

func TestShellToolArchivesLargeOutput(t *testing.T) {
	ws, guard, store := newToolEnv(t)
	tool := NewShellTool(ws, guard, store)
	tool.ArchiveThreshold = 100
	tool.PreviewLen = 50

	res, err := tool.Execute(context.Background(), map[string]any{
		"command": "head -c 40000 /dev/zero | tr '\\0' 'x'",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ArchivePath == "" {
		t.Fatal("large output not archived")
	}
	if !strings.Contains(res.Content, "已归档") {
		t.Errorf("content missing citation: %s", res.Content[:120])
	}
	if !strings.HasPrefix(res.ArchivePath, filepath.Join(".aacode", "context")) {
		t.Errorf("archive path %q not under .aacode/context", res.ArchivePath)
	}

	// Identical payload returns the same path, no new file.
	res2, err := tool.Execute(context.Background(), map[string]any{
		"command": "head -c 40000 /dev/zero | tr '\\0' 'x'",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res2.ArchivePath != res.ArchivePath {
		t.Errorf("dedup failed: %q vs %q", res.ArchivePath, res2.ArchivePath)
	}
}

func TestReadFileCapsAutoRead(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewReadFileTool(ws, store)
	tool.MaxAutoReadLines = 10

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line\n")
	}
	if err := os.WriteFile(filepath.Join(ws.Root, "big.txt"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Execute(context.Background(), map[string]any{"path": "big.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "10\tline") || strings.Contains(res.Content, "11\tline") {
		t.Errorf("cap not applied:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "已截断") {
		t.Errorf("no truncation notice:\n%s", res.Content)
	}

	// Explicit ranges are not capped.
	res, err = tool.Execute(context.Background(), map[string]any{
		"path": "big.txt", "start_line": 1, "end_line": 30,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "30\tline") {
		t.Errorf("explicit range capped:\n%s", res.Content)
	}
}

func TestReadFileRejectsUnsafePath(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewReadFileTool(ws, store)

	res, err := tool.Execute(context.Background(), map[string]any{"path": "/etc/shadow"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "不在允许访问的范围内") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestWriteFileOutsideRootRejected(t *testing.T) {
	ws, _, _ := newToolEnv(t)
	tool := NewWriteFileTool(ws)

	res, err := tool.Execute(context.Background(), map[string]any{
		"path": "/tmp/escape.txt", "content": "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "不能写入项目目录外的文件") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestWriteThenEditFile(t *testing.T) {
	ws, _, _ := newToolEnv(t)
	write := NewWriteFileTool(ws)
	edit := NewEditFileTool(ws)

	res, err := write.Execute(context.Background(), map[string]any{
		"path": "src/app.go", "content": "package app\n\nvar version = \"0.1\"\n",
	})
	if err != nil || res.IsError {
		t.Fatalf("write: %v %s", err, res.Content)
	}

	res, err = edit.Execute(context.Background(), map[string]any{
		"path": "src/app.go", "old_text": "\"0.1\"", "new_text": "\"0.2\"",
	})
	if err != nil || res.IsError {
		t.Fatalf("edit: %v %s", err, res.Content)
	}

	data, err := os.ReadFile(filepath.Join(ws.Root, "src", "app.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\"0.2\"") {
		t.Errorf("file = %s", data)
	}
}

func TestEditFileAmbiguousMatch(t *testing.T) {
	ws, _, _ := newToolEnv(t)
	edit := NewEditFileTool(ws)
	if err := os.WriteFile(filepath.Join(ws.Root, "a.txt"), []byte("x x"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := edit.Execute(context.Background(), map[string]any{
		"path": "a.txt", "old_text": "x", "new_text": "y",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "出现 2 次") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestListFilesSkipsStateDirs(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewListFilesTool(ws, store)
	for _, name := range []string{"main.go", "README.md"} {
		if err := os.WriteFile(filepath.Join(ws.Root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil || res.IsError {
		t.Fatalf("list: %v %v", err, res)
	}
	if !strings.Contains(res.Content, "main.go") || !strings.Contains(res.Content, "README.md") {
		t.Errorf("content = %s", res.Content)
	}
	if strings.Contains(res.Content, ".aacode") {
		t.Errorf("state dir listed: %s", res.Content)
	}
}

func TestListFilesCap(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewListFilesTool(ws, store)
	tool.MaxResults = 3
	for i := 0; i < 10; i++ {
		name := filepath.Join(ws.Root, "f"+strings.Repeat("a", i)+".txt")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "结果已截断至 3 项") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestSearchFilesFindsMatches(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewSearchFilesTool(ws, store)
	if err := os.WriteFile(filepath.Join(ws.Root, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.Root, "util.go"),
		[]byte("package main\n\nfunc helper() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Execute(context.Background(), map[string]any{
		"pattern": `func \w+\(`, "file_glob": "*.go",
	})
	if err != nil || res.IsError {
		t.Fatalf("search: %v %v", err, res)
	}
	for _, want := range []string{"main.go:3", "util.go:3", "共 2 条匹配"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content missing %q:\n%s", want, res.Content)
		}
	}
}

func TestSearchFilesBadRegex(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewSearchFilesTool(ws, store)
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "("})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "正则表达式不合法") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestSearchFilesNoMatch(t *testing.T) {
	ws, _, store := newToolEnv(t)
	tool := NewSearchFilesTool(ws, store)
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "nonexistent_symbol"})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(res.Content, "未找到匹配") {
		t.Errorf("content = %s", res.Content)
	}
}
