// Package guard decides what a requested view should show given the
// session state.
package guard

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/client/session"
)

type Route string

const (
	RouteRoot     Route = "/"
	RouteLogin    Route = "/login"
	RouteRegister Route = "/register"

	RouteDashboard     Route = "/dashboard"
	RouteYouTube       Route = "/youtube/download"
	RouteYouTubeSearch Route = "/youtube/search"
	RouteTorrentSearch Route = "/torrent/search"
	RouteStreaming     Route = "/media/streaming"
	RouteDownloads     Route = "/downloads"
	RouteProfile       Route = "/profile"
	RouteSettings      Route = "/settings"

	// RouteDefault is where authenticated users land.
	RouteDefault = RouteDashboard
)

var publicOnly = map[Route]bool{
	RouteLogin:    true,
	RouteRegister: true,
}

var protected = map[Route]bool{
	RouteDashboard:     true,
	RouteYouTube:       true,
	RouteYouTubeSearch: true,
	RouteTorrentSearch: true,
	RouteStreaming:     true,
	RouteDownloads:     true,
	RouteProfile:       true,
	RouteSettings:      true,
}

func IsPublicOnly(r Route) bool { return publicOnly[r] }

func IsProtected(r Route) bool { return protected[r] }

type Decision int

const (
	RenderRequested Decision = iota
	RenderLoading
	RedirectLogin
	RedirectDefault
)

func (d Decision) String() string {
	switch d {
	case RenderRequested:
		return "render-requested"
	case RenderLoading:
		return "render-loading"
	case RedirectLogin:
		return "redirect-login"
	case RedirectDefault:
		return "redirect-default"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

type Input struct {
	State session.State
	Route Route

	// LoadingFor is how long State has been authenticating.
	LoadingFor time.Duration
	// Timeout bounds the loading view. Zero means
	// session.DefaultBootstrapTimeout.
	Timeout time.Duration
}

// Decide is a pure function of in.
func Decide(in Input) Decision {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = session.DefaultBootstrapTimeout
	}

	state := in.State
	if state == session.StateAuthenticating {
		if in.LoadingFor < timeout {
			return RenderLoading
		}
		// Stuck past the bootstrap bound: show the login surface.
		state = session.StateUnauthenticated
	}

	switch state {
	case session.StateAuthenticated:
		// Public-only views, the root and unknown routes all land on the
		// default view.
		if IsProtected(in.Route) {
			return RenderRequested
		}
		return RedirectDefault
	default:
		if IsPublicOnly(in.Route) {
			return RenderRequested
		}
		return RedirectLogin
	}
}

// Evaluate builds the Input for s at now and decides.
func Evaluate(s session.Session, route Route, now time.Time, timeout time.Duration) Decision {
	in := Input{State: s.State, Route: route, Timeout: timeout}
	if s.State == session.StateAuthenticating && !s.Since.IsZero() {
		in.LoadingFor = now.Sub(s.Since)
	}
	return Decide(in)
}

// Target is the route a decision lands on.
func Target(d Decision, requested Route) Route {
	switch d {
	case RedirectLogin:
		return RouteLogin
	case RedirectDefault:
		return RouteDefault
	}
	return requested
}
