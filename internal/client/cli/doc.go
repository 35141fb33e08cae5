// Package cli provides the interactive EagleEye terminal client.
//
// It wires configuration, the local credential database, the HTTP API
// client, the session manager, the push channel and the job cache, then runs
// a REPL over them. The session is restored in the background on start; until
// that finishes (or the bootstrap timeout passes) protected commands report
// that the session is loading.
//
// Every command maps to a view route and is gated by guard.Decide, so the
// terminal follows the same navigation rules as the web UI:
//
//   - register / login                     public-only
//   - jobs, refresh, show, delete, fetch   /downloads
//   - profile, profile set, logout         /profile
//   - connect, disconnect                  /dashboard
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
