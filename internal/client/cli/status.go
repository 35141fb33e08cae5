package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/client/push"
)

const pingTimeout = 3 * time.Second

// Status prints the session, the push channel and server reachability.
func (a *App) Status(ctx context.Context) error {
	s := a.sessions.Current()
	if s.User != nil {
		fmt.Fprintf(a.out, "Session: %s as %s\n", s.State, s.User.Username)
	} else {
		fmt.Fprintf(a.out, "Session: %s\n", s.State)
	}
	if at, ok, err := a.store.SavedAt(ctx); err != nil {
		a.log.Debug(ctx, "reading token timestamp failed", "error", err)
	} else if ok {
		fmt.Fprintln(a.out, "Token:   saved", at.Local().Format("2006-01-02 15:04"))
	}

	line := "Push:    " + a.push.Status().String()
	if n := a.push.RetryCount(); n > 0 {
		line += fmt.Sprintf(" (retry %d)", n)
	}
	if a.push.Exhausted() {
		line += " (gave up, run 'connect')"
	}
	fmt.Fprintln(a.out, line)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := a.api.Ping(pctx); err != nil {
		fmt.Fprintln(a.out, "Server:  unreachable")
		a.log.Debug(ctx, "health check failed", "error", err)
		return nil
	}
	fmt.Fprintln(a.out, "Server:  healthy")
	return nil
}

func (a *App) Connect(ctx context.Context) error {
	if err := a.push.Connect(ctx); err != nil {
		if errors.Is(err, push.ErrNotAuthenticated) {
			fmt.Fprintln(a.out, "Log in to receive realtime updates.")
		}
		return err
	}
	fmt.Fprintln(a.out, "Push channel:", a.push.Status())
	return nil
}

func (a *App) Disconnect(ctx context.Context) error {
	a.push.Disconnect()
	a.log.Info(ctx, "push channel disconnected by user")
	fmt.Fprintln(a.out, "Push channel: disconnected")
	return nil
}
