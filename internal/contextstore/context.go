package contextstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// filePriority buckets for the context file listing. Lower sorts first.
const (
	priorityProject = iota // README, init.md, config files
	priorityData
	prioritySource
	priorityOther
)

var configNames = map[string]bool{
	"readme.md": true, "init.md": true, "makefile": true, "dockerfile": true,
	"go.mod": true, "package.json": true, "pyproject.toml": true,
	"requirements.txt": true, "setup.py": true, "cargo.toml": true,
	"config.yaml": true, "config.yml": true, "config.json": true,
	".env.example": true,
}

var dataExtensions = map[string]bool{
	".csv": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".xml": true, ".sql": true, ".parquet": true,
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".rs": true, ".java": true, ".c": true, ".cc": true,
	".cpp": true, ".h": true, ".hpp": true, ".rb": true, ".php": true,
	".sh": true, ".swift": true, ".kt": true, ".scala": true,
}

func filePriority(rel string) int {
	name := strings.ToLower(filepath.Base(rel))
	if configNames[name] {
		return priorityProject
	}
	ext := strings.ToLower(filepath.Ext(rel))
	switch {
	case dataExtensions[ext]:
		return priorityData
	case sourceExtensions[ext]:
		return prioritySource
	default:
		return priorityOther
	}
}

// BuildContext assembles the structured context preamble: project brief,
// todo pointer, recent observations, recent errors, and a priority-sorted
// file listing.
func (s *Store) BuildContext() string {
	var b strings.Builder

	if brief, err := os.ReadFile(s.ws.InitFile()); err == nil && len(brief) > 0 {
		b.WriteString("## Project brief\n")
		b.Write(brief)
		b.WriteString("\n\n")
	}

	if s.TodoPath != "" {
		fmt.Fprintf(&b, "## Todo list\n%s\n\n", s.TodoPath)
	}

	if latest := s.LatestObservation(); latest != "" {
		fmt.Fprintf(&b, "## Latest observation\n%s\n\n", latest)
	}

	if history := s.History(3); len(history) > 0 {
		b.WriteString("## Recent observations\n")
		for _, entry := range history {
			b.WriteString(entry)
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
	}

	if errs := s.RecentErrors(); errs != "" {
		fmt.Fprintf(&b, "## Recent errors\n%s\n\n", errs)
	}

	fmt.Fprintf(&b, "## Workspace\n%s\n\n", s.ws.Root)

	if listing := s.fileListing(); len(listing) > 0 {
		b.WriteString("## Files\n")
		for _, rel := range listing {
			b.WriteString(rel)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// fileListing walks the workspace and returns up to MaxContextFiles
// relative paths sorted by priority bucket, then lexicographically.
func (s *Store) fileListing() []string {
	var files []string
	_ = filepath.WalkDir(s.ws.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == ".aacode" || name == "node_modules" ||
				name == "__pycache__" || name == ".venv" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.ws.Root, path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		pi, pj := filePriority(files[i]), filePriority(files[j])
		if pi != pj {
			return pi < pj
		}
		return files[i] < files[j]
	})

	limit := s.MaxContextFiles
	if limit <= 0 {
		limit = 50
	}
	if len(files) > limit {
		files = files[:limit]
	}
	return files
}
