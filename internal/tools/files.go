package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// pathAliases are the alternative spellings models routinely emit for the
// path parameter.
var pathAliases = []string{"filepath", "file_path", "file", "filename"}

// ReadFileTool reads project files, line-capped unless a range is given.
type ReadFileTool struct {
	ws    *workspace.Layout
	store *contextstore.Store

	// MaxAutoReadLines caps output when no explicit range is requested.
	MaxAutoReadLines int

	// ArchiveThreshold and PreviewLen control large-content archival.
	ArchiveThreshold int
	PreviewLen       int
}

// NewReadFileTool builds the read_file tool.
func NewReadFileTool(ws *workspace.Layout, store *contextstore.Store) *ReadFileTool {
	return &ReadFileTool{
		ws:               ws,
		store:            store,
		MaxAutoReadLines: 200,
		ArchiveThreshold: 30000,
		PreviewLen:       5000,
	}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "读取项目中的文件内容，支持行号范围" }

// ReadFileSchema declares the read_file call signature.
func ReadFileSchema() Schema {
	return Schema{
		Name:        "read_file",
		Description: "读取项目中的文件内容，支持行号范围",
		Params: []Param{
			{
				Name: "path", Type: "string", Required: true,
				Description: "文件路径（相对项目根目录）",
				Example:     "README.md",
				Aliases:     pathAliases,
			},
			{
				Name: "start_line", Type: "integer",
				Description: "起始行号（从 1 开始）",
				Aliases:     []string{"start", "from_line"},
			},
			{
				Name: "end_line", Type: "integer",
				Description: "结束行号（含）",
				Aliases:     []string{"end", "to_line"},
			},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, _ := params["path"].(string)
	abs, result := resolveSafe(t.ws, path)
	if result != nil {
		return result, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Errorf("错误：读取文件失败: %v", err), nil
	}

	lines := strings.Split(string(data), "\n")
	start, end := asInt(params["start_line"]), asInt(params["end_line"])
	ranged := start > 0 || end > 0

	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return Errorf("错误：起始行 %d 超出文件长度 %d", start, len(lines)), nil
	}

	capped := false
	if !ranged && end-start+1 > t.MaxAutoReadLines {
		end = start + t.MaxAutoReadLines - 1
		capped = true
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i, lines[i-1])
	}
	if capped {
		fmt.Fprintf(&b, "\n（文件共 %d 行，已截断至前 %d 行，可用 start_line/end_line 读取其余部分）\n",
			len(lines), t.MaxAutoReadLines)
	}
	content := b.String()

	result = &Result{Content: content, Kind: contextstore.KindFileContent}
	if len(content) > t.ArchiveThreshold && t.store != nil {
		name := contextstore.ArchiveName(contextstore.KindFileContent, filepath.Base(path))
		if rel, archiveErr := t.store.SaveLargeOutput([]byte(content), name); archiveErr == nil {
			result.ArchivePath = rel
			result.Content = archiveCitation(content, rel, t.PreviewLen)
		}
	}
	return result, nil
}

// WriteFileTool creates or overwrites a project file.
type WriteFileTool struct {
	ws *workspace.Layout
}

// NewWriteFileTool builds the write_file tool.
func NewWriteFileTool(ws *workspace.Layout) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "创建或覆盖项目中的文件" }

// WriteFileSchema declares the write_file call signature.
func WriteFileSchema() Schema {
	return Schema{
		Name:        "write_file",
		Description: "创建或覆盖项目中的文件",
		Params: []Param{
			{
				Name: "path", Type: "string", Required: true,
				Description: "文件路径（相对项目根目录）",
				Example:     "src/main.go",
				Aliases:     pathAliases,
			},
			{
				Name: "content", Type: "string", Required: true,
				Description: "写入的完整文件内容",
				Aliases:     []string{"text", "data", "body"},
			},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)

	abs, result := resolveWritable(t.ws, path)
	if result != nil {
		return result, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Errorf("错误：创建目录失败: %v", err), nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Errorf("错误：写入文件失败: %v", err), nil
	}
	return &Result{
		Content: fmt.Sprintf("已写入 %s（%d 字节）", path, len(content)),
		Kind:    contextstore.KindFileContent,
	}, nil
}

// EditFileTool applies a find/replace edit to a project file.
type EditFileTool struct {
	ws *workspace.Layout
}

// NewEditFileTool builds the edit_file tool.
func NewEditFileTool(ws *workspace.Layout) *EditFileTool {
	return &EditFileTool{ws: ws}
}

func (t *EditFileTool) Name() string        { return "edit_file" }
func (t *EditFileTool) Description() string { return "在文件中查找并替换文本片段" }

// EditFileSchema declares the edit_file call signature.
func EditFileSchema() Schema {
	return Schema{
		Name:        "edit_file",
		Description: "在文件中查找并替换文本片段",
		Params: []Param{
			{
				Name: "path", Type: "string", Required: true,
				Description: "文件路径（相对项目根目录）",
				Example:     "src/main.go",
				Aliases:     pathAliases,
			},
			{
				Name: "old_text", Type: "string", Required: true,
				Description: "要替换的原文本，必须与文件内容完全一致",
				Aliases:     []string{"old", "find", "search", "old_string"},
			},
			{
				Name: "new_text", Type: "string", Required: true,
				Description: "替换后的新文本",
				Aliases:     []string{"new", "replace", "replacement", "new_string"},
			},
		},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, _ := params["path"].(string)
	oldText, _ := params["old_text"].(string)
	newText, _ := params["new_text"].(string)

	if oldText == "" {
		return Errorf("错误：old_text 参数为空"), nil
	}

	abs, result := resolveWritable(t.ws, path)
	if result != nil {
		return result, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Errorf("错误：读取文件失败: %v", err), nil
	}
	content := string(data)

	count := strings.Count(content, oldText)
	switch count {
	case 0:
		return Errorf("错误：在 %s 中未找到要替换的文本", path), nil
	case 1:
	default:
		return Errorf("错误：要替换的文本在 %s 中出现 %d 次，请提供更长的唯一片段", path, count), nil
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return Errorf("错误：写入文件失败: %v", err), nil
	}
	return &Result{
		Content: fmt.Sprintf("已编辑 %s（替换 %d 字节 → %d 字节）", path, len(oldText), len(newText)),
		Kind:    contextstore.KindFileContent,
	}, nil
}

// ListFilesTool lists directory entries under the workspace.
type ListFilesTool struct {
	ws    *workspace.Layout
	store *contextstore.Store

	// MaxResults caps the number of listed entries.
	MaxResults int
}

// NewListFilesTool builds the list_files tool.
func NewListFilesTool(ws *workspace.Layout, store *contextstore.Store) *ListFilesTool {
	return &ListFilesTool{ws: ws, store: store, MaxResults: 100}
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "列出目录中的文件和子目录" }

// ListFilesSchema declares the list_files call signature.
func ListFilesSchema() Schema {
	return Schema{
		Name:        "list_files",
		Description: "列出目录中的文件和子目录",
		Params: []Param{
			{
				Name: "path", Type: "string",
				Description: "目录路径（默认项目根目录）",
				Default:     ".",
				Aliases:     []string{"dir", "directory", "folder"},
			},
			{
				Name: "recursive", Type: "boolean",
				Description: "是否递归列出子目录",
				Default:     false,
			},
		},
	}
}

// skipDirs are never descended into by list_files and search_files.
var skipDirs = map[string]bool{
	".git":         true,
	".aacode":      true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
}

func (t *ListFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, _ := params["path"].(string)
	if path == "" {
		path = "."
	}
	recursive, _ := params["recursive"].(bool)

	abs, result := resolveSafe(t.ws, path)
	if result != nil {
		return result, nil
	}

	var names []string
	truncated := false
	if recursive {
		err := filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(abs, p)
			if relErr != nil {
				return nil
			}
			names = append(names, rel)
			return nil
		})
		if err != nil {
			return Errorf("错误：遍历目录失败: %v", err), nil
		}
	} else {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return Errorf("错误：读取目录失败: %v", err), nil
		}
		for _, e := range entries {
			name := e.Name()
			if skipDirs[name] {
				continue
			}
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
	}

	sort.Strings(names)
	if t.MaxResults > 0 && len(names) > t.MaxResults {
		names = names[:t.MaxResults]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s 下共 %d 项:\n", path, len(names))
	for _, n := range names {
		fmt.Fprintf(&b, "  %s\n", n)
	}
	if truncated {
		fmt.Fprintf(&b, "（结果已截断至 %d 项）\n", t.MaxResults)
	}
	return &Result{Content: b.String(), Kind: contextstore.KindFileList}, nil
}

// resolveSafe resolves a path and rejects anything outside the safe set.
func resolveSafe(ws *workspace.Layout, path string) (string, *Result) {
	if strings.TrimSpace(path) == "" {
		return "", Errorf("错误：path 参数为空")
	}
	if !ws.IsSafePath(path) {
		return "", Errorf("错误：路径 %s 不在允许访问的范围内", path)
	}
	abs, err := ws.Resolve(path)
	if err != nil {
		return "", Errorf("错误：无法解析路径 %s: %v", path, err)
	}
	return abs, nil
}

// resolveWritable additionally requires the path to be inside the project
// root; the read-only allow list never permits writes.
func resolveWritable(ws *workspace.Layout, path string) (string, *Result) {
	if strings.TrimSpace(path) == "" {
		return "", Errorf("错误：path 参数为空")
	}
	if !ws.Contains(path) {
		return "", Errorf("错误：不能写入项目目录外的文件: %s", path)
	}
	abs, err := ws.Resolve(path)
	if err != nil {
		return "", Errorf("错误：无法解析路径 %s: %v", path, err)
	}
	return abs, nil
}
