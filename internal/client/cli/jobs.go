package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

const loadWait = 10 * time.Second

var (
	ErrMissingID = errors.New("missing job id")
	ErrBadID     = errors.New("job id must be a number")
)

var statusStyles = map[models.JobStatus]lipgloss.Style{
	models.JobPending:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	models.JobDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	models.JobCompleted:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	models.JobFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

func renderStatus(s models.JobStatus) string {
	if st, ok := statusStyles[s]; ok {
		return st.Render(string(s))
	}
	return string(s)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
}

func (a *App) parseID(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		fmt.Fprintln(a.out, "Usage:", usage)
		return 0, ErrMissingID
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintln(a.out, "Usage:", usage)
		return 0, ErrBadID
	}
	return id, nil
}

// Jobs prints the cached downloads. The first call after login starts
// loading them.
func (a *App) Jobs(ctx context.Context) error {
	list, loading := a.jobs.List(ctx)
	if loading && len(list) == 0 {
		fmt.Fprintln(a.out, "Loading downloads...")
		if !a.waitLoaded(ctx) {
			return nil
		}
		list, _ = a.jobs.List(ctx)
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No downloads yet.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TITLE", "STATUS", "PROGRESS", "CREATED")
	for _, j := range list {
		title := j.Title
		if title == "" {
			title = j.SourceURL
		}
		created := ""
		if !j.CreatedAt.IsZero() {
			created = j.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		t.Row(strconv.FormatInt(j.ID, 10), title, renderStatus(j.Status), percent(j.Progress), created)
	}
	fmt.Fprintln(a.out, t.Render())
	return nil
}

// waitLoaded blocks until the running fetch ends, bounded by loadWait.
func (a *App) waitLoaded(ctx context.Context) bool {
	done := a.jobs.Loading()
	if done == nil {
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, loadWait)
	defer cancel()
	select {
	case <-done:
		return true
	case <-wctx.Done():
		return false
	}
}

func (a *App) Refresh(ctx context.Context) error {
	if err := a.jobs.Refresh(ctx); err != nil {
		fmt.Fprintln(a.out, "Could not refresh downloads:", client.Reason(err, "server unavailable"))
		return err
	}
	list, _ := a.jobs.List(ctx)
	fmt.Fprintf(a.out, "%d download(s).\n", len(list))
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	id, err := a.parseID(args, "show <id>")
	if err != nil {
		return err
	}
	j, ok := a.jobs.Get(id)
	if !ok {
		fmt.Fprintf(a.out, "Download %d not found.\n", id)
		return nil
	}

	fmt.Fprintf(a.out, "ID:        %d\n", j.ID)
	fmt.Fprintf(a.out, "Title:     %s\n", j.Title)
	fmt.Fprintf(a.out, "Source:    %s\n", j.SourceURL)
	fmt.Fprintf(a.out, "Status:    %s\n", renderStatus(j.Status))
	fmt.Fprintf(a.out, "Progress:  %s\n", percent(j.Progress))
	if !j.CreatedAt.IsZero() {
		fmt.Fprintf(a.out, "Created:   %s\n", j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(a.out, "Completed: %s\n", j.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if j.FilePath != "" {
		fmt.Fprintf(a.out, "File:      %s\n", j.FilePath)
	}
	if j.Error != "" {
		fmt.Fprintf(a.out, "Error:     %s\n", j.Error)
	}
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	id, err := a.parseID(args, "delete <id>")
	if err != nil {
		return err
	}
	return a.jobs.DeleteJob(ctx, id)
}

func (a *App) Fetch(ctx context.Context, args []string) error {
	id, err := a.parseID(args, "fetch <id>")
	if err != nil {
		return err
	}
	loc, err := a.jobs.FetchArtifact(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Saved to", loc)
	return nil
}
