package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// SearchFilesTool greps project files with a regular expression.
type SearchFilesTool struct {
	ws    *workspace.Layout
	store *contextstore.Store

	// MaxResults caps the number of reported matches.
	MaxResults int

	// ArchiveThreshold and PreviewLen control large-result archival.
	ArchiveThreshold int
	PreviewLen       int
}

// NewSearchFilesTool builds the search_files tool.
func NewSearchFilesTool(ws *workspace.Layout, store *contextstore.Store) *SearchFilesTool {
	return &SearchFilesTool{
		ws:               ws,
		store:            store,
		MaxResults:       20,
		ArchiveThreshold: 15000,
		PreviewLen:       2000,
	}
}

func (t *SearchFilesTool) Name() string        { return "search_files" }
func (t *SearchFilesTool) Description() string { return "在项目文件中按正则表达式搜索文本" }

// SearchFilesSchema declares the search_files call signature.
func SearchFilesSchema() Schema {
	return Schema{
		Name:        "search_files",
		Description: "在项目文件中按正则表达式搜索文本",
		Params: []Param{
			{
				Name: "pattern", Type: "string", Required: true,
				Description: "正则表达式",
				Example:     "func main",
				Aliases:     []string{"regex", "query", "search"},
			},
			{
				Name: "path", Type: "string",
				Description: "搜索根目录（默认项目根目录）",
				Default:     ".",
				Aliases:     []string{"dir", "directory"},
			},
			{
				Name: "file_glob", Type: "string",
				Description: "文件名过滤（glob，例如 *.go）",
				Aliases:     []string{"glob", "include"},
			},
		},
	}
}

// maxSearchLineLen skips pathological lines (minified bundles etc.).
const maxSearchLineLen = 2000

func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	pattern, _ := params["pattern"].(string)
	if strings.TrimSpace(pattern) == "" {
		return Errorf("错误：pattern 参数为空"), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Errorf("错误：正则表达式不合法: %v", err), nil
	}

	root, _ := params["path"].(string)
	if root == "" {
		root = "."
	}
	abs, bad := resolveSafe(t.ws, root)
	if bad != nil {
		return bad, nil
	}
	glob, _ := params["file_glob"].(string)

	var b strings.Builder
	matches := 0
	truncated := false
	walkErr := filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if truncated {
			return filepath.SkipAll
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, d.Name()); !ok {
				return nil
			}
		}
		rel, relErr := filepath.Rel(t.ws.Root, p)
		if relErr != nil {
			rel = p
		}
		f, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if len(line) > maxSearchLineLen || !re.MatchString(line) {
				continue
			}
			fmt.Fprintf(&b, "%s:%d: %s\n", rel, lineNo, strings.TrimSpace(line))
			matches++
			if t.MaxResults > 0 && matches >= t.MaxResults {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return Errorf("错误：搜索失败: %v", walkErr), nil
	}

	if matches == 0 {
		return &Result{
			Content: fmt.Sprintf("未找到匹配 '%s' 的内容", pattern),
			Kind:    contextstore.KindSearchResults,
		}, nil
	}
	if truncated {
		fmt.Fprintf(&b, "（结果已截断至 %d 条）\n", t.MaxResults)
	}
	content := fmt.Sprintf("共 %d 条匹配:\n%s", matches, b.String())

	result := &Result{Content: content, Kind: contextstore.KindSearchResults}
	if len(content) > t.ArchiveThreshold && t.store != nil {
		name := contextstore.ArchiveName(contextstore.KindSearchResults, pattern)
		if rel, archiveErr := t.store.SaveLargeOutput([]byte(content), name); archiveErr == nil {
			result.ArchivePath = rel
			result.Content = archiveCitation(content, rel, t.PreviewLen)
		}
	}
	return result, nil
}
