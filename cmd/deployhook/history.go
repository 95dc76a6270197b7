package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"

	"github.com/mattjoyce/deployhook/internal/config"
	"github.com/mattjoyce/deployhook/internal/history"
	"github.com/mattjoyce/deployhook/internal/pipeline"
	"github.com/mattjoyce/deployhook/internal/storage"
)

// historyTheme keeps the history table colors in one place.
type historyTheme struct {
	Header    lipgloss.Style
	Border    lipgloss.Style
	Cell      lipgloss.Style
	Succeeded lipgloss.Style
	Failed    lipgloss.Style
	Rejected  lipgloss.Style
}

func newHistoryTheme() historyTheme {
	return historyTheme{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1),
		Border:    lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD")),
		Cell:      lipgloss.NewStyle().Padding(0, 1),
		Succeeded: lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#00FF00")),
		Failed:    lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#FF0000")),
		Rejected:  lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#888888")),
	}
}

func (t historyTheme) status(s string) lipgloss.Style {
	switch pipeline.Status(s) {
	case pipeline.StatusSucceeded:
		return t.Succeeded
	case pipeline.StatusFailed:
		return t.Failed
	default:
		return t.Rejected
	}
}

const statusColumn = 2

type historyRow struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Ref        string `json:"ref,omitempty"`
	CommitID   string `json:"commit_id,omitempty"`
	Status     string `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

func runHistoryList(args []string) int {
	var configPath, repo string
	var limit int
	var jsonOut bool

	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&repo, "repo", "", "Only show runs for owner/name")
	fs.IntVarP(&limit, "limit", "n", history.DefaultListLimit, "Maximum number of runs")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	if cfg.State.Path == "" {
		fmt.Fprintln(os.Stderr, "Run history is disabled (state.path is empty)")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	runs, err := history.NewStore(db).List(ctx, repo, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if jsonOut {
		rows := make([]historyRow, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, historyRow{
				ID:         run.ID,
				Repository: run.Repository,
				DeliveryID: run.DeliveryID,
				Ref:        run.Ref,
				CommitID:   run.CommitID,
				Status:     run.Status,
				Code:       run.Code,
				Message:    run.Message,
				StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
				DurationMS: run.Duration().Milliseconds(),
			})
		}
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No deployment runs recorded.")
		return 0
	}
	fmt.Println(renderHistory(runs, newHistoryTheme()))
	return 0
}

func renderHistory(runs []history.Run, theme historyTheme) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Repository,
			run.Status,
			strconv.Itoa(run.Code),
			shortCommit(run.CommitID),
			run.Duration().Round(time.Millisecond).String(),
			run.Message,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.Border).
		Headers("STARTED", "REPOSITORY", "STATUS", "CODE", "COMMIT", "DURATION", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.Header
			case col == statusColumn:
				return theme.status(rows[row][statusColumn])
			default:
				return theme.Cell
			}
		}).
		String()
}

func shortCommit(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
