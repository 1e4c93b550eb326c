package tools

import (
	"github.com/haasonsaas/aacode/internal/config"
	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/safety"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// RegisterBuiltins wires the standard tool set into a registry with limits
// taken from the configuration.
func RegisterBuiltins(reg *Registry, ws *workspace.Layout, guard *safety.Guard, store *contextstore.Store, cfg *config.Config) error {
	shell := NewShellTool(ws, guard, store)
	shell.DefaultTimeout = cfg.ShellCommandTimeout.Std()
	shell.ArchiveThreshold = cfg.NormalOutputThreshold
	shell.PreviewLen = cfg.NormalOutputPreview

	read := NewReadFileTool(ws, store)
	read.MaxAutoReadLines = cfg.MaxAutoReadLines
	read.ArchiveThreshold = cfg.CodeContentThreshold
	read.PreviewLen = cfg.CodeContentPreview

	list := NewListFilesTool(ws, store)
	list.MaxResults = cfg.MaxFileListResults

	search := NewSearchFilesTool(ws, store)
	search.MaxResults = cfg.MaxSearchResults
	search.ArchiveThreshold = cfg.NormalOutputThreshold
	search.PreviewLen = cfg.NormalOutputPreview

	registrations := []struct {
		tool   Tool
		schema Schema
	}{
		{shell, ShellSchema()},
		{read, ReadFileSchema()},
		{NewWriteFileTool(ws), WriteFileSchema()},
		{NewEditFileTool(ws), EditFileSchema()},
		{list, ListFilesSchema()},
		{search, SearchFilesSchema()},
	}
	for _, r := range registrations {
		if err := reg.Register(r.tool, r.schema); err != nil {
			return err
		}
	}
	return nil
}
