package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/eagleeye/internal/client/guard"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. *App satisfies it;
// tests provide a stub.
type execIface interface {
	decide(route guard.Route) guard.Decision
	currentUser() string

	Status(ctx context.Context) error
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Profile(ctx context.Context) error
	ProfileSet(ctx context.Context, items []string) error
	Jobs(ctx context.Context) error
	Refresh(ctx context.Context) error
	Show(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Fetch(ctx context.Context, args []string) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// command binds a REPL verb to the view it belongs to. An empty route is
// never gated.
type command struct {
	route guard.Route
	run   func(ctx context.Context, a execIface, args []string) error
}

var commands = map[string]command{
	"status":   {run: func(ctx context.Context, a execIface, _ []string) error { return a.Status(ctx) }},
	"register": {route: guard.RouteRegister, run: func(ctx context.Context, a execIface, _ []string) error { return a.Register(ctx) }},
	"login":    {route: guard.RouteLogin, run: func(ctx context.Context, a execIface, _ []string) error { return a.Login(ctx) }},
	"logout":   {route: guard.RouteProfile, run: func(ctx context.Context, a execIface, _ []string) error { return a.Logout(ctx) }},
	"profile": {route: guard.RouteProfile, run: func(ctx context.Context, a execIface, args []string) error {
		if len(args) > 0 && args[0] == "set" {
			return a.ProfileSet(ctx, args[1:])
		}
		return a.Profile(ctx)
	}},
	"jobs":       {route: guard.RouteDownloads, run: func(ctx context.Context, a execIface, _ []string) error { return a.Jobs(ctx) }},
	"refresh":    {route: guard.RouteDownloads, run: func(ctx context.Context, a execIface, _ []string) error { return a.Refresh(ctx) }},
	"show":       {route: guard.RouteDownloads, run: func(ctx context.Context, a execIface, args []string) error { return a.Show(ctx, args) }},
	"delete":     {route: guard.RouteDownloads, run: func(ctx context.Context, a execIface, args []string) error { return a.Delete(ctx, args) }},
	"fetch":      {route: guard.RouteDownloads, run: func(ctx context.Context, a execIface, args []string) error { return a.Fetch(ctx, args) }},
	"connect":    {route: guard.RouteDashboard, run: func(ctx context.Context, a execIface, _ []string) error { return a.Connect(ctx) }},
	"disconnect": {route: guard.RouteDashboard, run: func(ctx context.Context, a execIface, _ []string) error { return a.Disconnect(ctx) }},
}

// helpOrder lists help entries in display order, keyed by verb.
var helpOrder = []struct{ verb, label string }{
	{"register", "register"},
	{"login", "login"},
	{"jobs", "jobs"},
	{"refresh", "refresh"},
	{"show", "show <id>"},
	{"delete", "delete <id>"},
	{"fetch", "fetch <id>"},
	{"profile", "profile"},
	{"profile", "profile set k=v..."},
	{"connect", "connect"},
	{"disconnect", "disconnect"},
	{"status", "status"},
	{"logout", "logout"},
}

// available lists the commands whose view would render as requested right
// now. While the session is restoring only ungated commands are listed.
func available(a execIface) []string {
	var out []string
	for _, h := range helpOrder {
		route := commands[h.verb].route
		if route != "" {
			d := a.decide(route)
			if d == guard.RenderLoading || guard.Target(d, route) != route {
				continue
			}
		}
		out = append(out, h.label)
	}
	return append(out, "exit")
}

// runREPL reads commands from in until EOF, "exit"/"quit", or ctx is done.
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help                 show available commands
//	  - status               session, push and server status
//	  - register             create an account
//	  - login                authenticate
//	  - exit | quit          leave the program
//
//	Logged in:
//	  - jobs                 list downloads
//	  - refresh              reload downloads from the server
//	  - show <id>            show one download
//	  - delete <id>          delete a download
//	  - fetch <id>           save a completed download's file
//	  - profile              show the profile
//	  - profile set k=v...   update full_name, avatar or preferences
//	  - connect|disconnect   control the realtime channel
//	  - logout               end the session
//
// Errors returned by handlers are not printed here; handlers and the
// components they call report failures themselves.
func runREPL(ctx context.Context, a execIface, statusFn func() string, in *bufio.Reader) {
	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("eagleeye %s > ", statusFn()))
		line, err := readLine(in)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "help":
			printlnFn("Available commands: " + strings.Join(available(a), ", "))
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		cmd, ok := commands[name]
		if !ok {
			printlnFn("Unknown command:", name)
			continue
		}

		if cmd.route != "" {
			switch a.decide(cmd.route) {
			case guard.RenderLoading:
				printlnFn("Restoring your session, please wait...")
				continue
			case guard.RedirectLogin:
				printlnFn("Please log in first (login or register).")
				continue
			case guard.RedirectDefault:
				printlnFn(fmt.Sprintf("Already logged in as %s; logout first.", a.currentUser()))
				continue
			}
		}
		_ = cmd.run(ctx, a, args)
	}
}
