package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/aacode/internal/sessions"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// sessionRow mirrors one entry of sessions_index.json.
type sessionRow struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	TotalTokens  int       `json:"total_tokens"`
}

// buildSessionsCmd creates the "sessions" command: list past runs.
func buildSessionsCmd() *cobra.Command {
	var workdir string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions recorded in the working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.New(workdir)
			if err != nil {
				return err
			}
			rows, err := readSessionIndex(ws)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("没有会话记录。")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tMESSAGES\tTOKENS\tLAST ACTIVITY\tTITLE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					r.ID, r.Status, r.MessageCount, r.TotalTokens,
					r.LastActivity.Format("2006-01-02 15:04"), r.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&workdir, "workdir", "w", ".", "Project directory")
	cmd.AddCommand(buildSessionsCompressCmd())
	return cmd
}

// buildSessionsCompressCmd creates "sessions compress": trim a stored
// session to its system messages plus the configured recent-message cap.
func buildSessionsCompressCmd() *cobra.Command {
	var (
		workdir      string
		keepMessages int
	)
	cmd := &cobra.Command{
		Use:   "compress <session-id>",
		Short: "Compress a stored session to its recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(workdir, "")
			if err != nil {
				return err
			}
			if keepMessages <= 0 {
				keepMessages = cfg.CompactKeepMessages
			}
			ws, err := workspace.New(workdir)
			if err != nil {
				return err
			}
			sess := sessions.New(ws, nil, nil)
			if err := sess.Compress(args[0], keepMessages); err != nil {
				return fmt.Errorf("compress session %s: %w", args[0], err)
			}
			fmt.Printf("会话 %s 已压缩（保留最近 %d 条消息）\n", args[0], keepMessages)
			return nil
		},
	}
	cmd.Flags().StringVarP(&workdir, "workdir", "w", ".", "Project directory")
	cmd.Flags().IntVar(&keepMessages, "keep", 0, "Messages to keep (default: compact_keep_messages)")
	return cmd
}

func readSessionIndex(ws *workspace.Layout) ([]sessionRow, error) {
	path := filepath.Join(ws.SessionsDir(), "sessions_index.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var rows []sessionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	return rows, nil
}
