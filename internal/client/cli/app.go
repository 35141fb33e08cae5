package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dmitrijs2005/eagleeye/internal/client/artifacts"
	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/config"
	"github.com/dmitrijs2005/eagleeye/internal/client/credentials"
	"github.com/dmitrijs2005/eagleeye/internal/client/guard"
	"github.com/dmitrijs2005/eagleeye/internal/client/jobs"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
	"github.com/dmitrijs2005/eagleeye/internal/client/notify"
	"github.com/dmitrijs2005/eagleeye/internal/client/push"
	"github.com/dmitrijs2005/eagleeye/internal/client/repositories"
	"github.com/dmitrijs2005/eagleeye/internal/client/session"
	"github.com/dmitrijs2005/eagleeye/internal/clock"
	"github.com/dmitrijs2005/eagleeye/internal/logging"
)

type App struct {
	config   *config.Config
	api      client.Client
	log      logging.Logger
	clock    clock.Clock
	store    credentials.Store
	sessions *session.Manager
	push     *push.Manager
	jobs     *jobs.Cache
	reader   *bufio.Reader
	out      io.Writer

	cleanup []func()
}

// deps are the pieces NewApp builds from configuration. Tests assemble an
// App from fakes instead.
type deps struct {
	api      client.Client
	store    credentials.Store
	dialer   push.Dialer
	sink     artifacts.Sink
	clock    clock.Clock
	log      logging.Logger
	notifier notify.Notifier
	in       io.Reader
	out      io.Writer
}

// NewApp opens the local database and builds every component from cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, cfg.LogLevel)

	store, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "error initializing database", "path", cfg.DatabasePath, "error", err)
		return nil, err
	}

	api := client.NewHTTPClient(cfg.APIBaseURL,
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		client.WithTokenSource(store),
		client.WithRateLimit(cfg.RequestsPerSecond, int(cfg.RequestsPerSecond)),
	)

	dialer, err := push.NewDialer(cfg.PushURL)
	if err != nil {
		closeDB()
		return nil, err
	}

	sink, err := newSink(ctx, cfg)
	if err != nil {
		closeDB()
		return nil, err
	}

	a := assemble(cfg, deps{
		api:      api,
		store:    store,
		dialer:   dialer,
		sink:     sink,
		clock:    clock.Real(),
		log:      logger,
		notifier: notify.NewTerminal(os.Stdout),
		in:       os.Stdin,
		out:      os.Stdout,
	})
	api.OnUnauthorized(a.sessions.Reject)
	a.cleanup = append([]func(){closeDB}, a.cleanup...)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (credentials.Store, func(), error) {
	if cfg.Ephemeral {
		return credentials.NewMemoryStore(""), func() {}, nil
	}
	db, err := repositories.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return credentials.NewSQLiteStore(db), func() { _ = db.Close() }, nil
}

func newSink(ctx context.Context, cfg *config.Config) (artifacts.Sink, error) {
	if !cfg.S3.Enabled() {
		return artifacts.NewDirSink(cfg.DownloadDir), nil
	}
	s3c, err := artifacts.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return artifacts.NewS3Sink(s3c, cfg.S3.Bucket, cfg.S3.Prefix), nil
}

func assemble(cfg *config.Config, d deps) *App {
	a := &App{
		config: cfg,
		api:    d.api,
		log:    d.log,
		clock:  d.clock,
		store:  d.store,
		reader: bufio.NewReader(d.in),
		out:    d.out,
	}

	a.sessions = session.NewManager(d.api, d.store, session.Options{
		BootstrapTimeout: cfg.BootstrapTimeout,
		Clock:            d.clock,
		Logger:           d.log.With("component", "session"),
		Notifier:         d.notifier,
	})

	a.jobs = jobs.NewCache(d.api, jobs.Options{
		Clock:    d.clock,
		Logger:   d.log.With("component", "jobs"),
		Notifier: d.notifier,
		Sink:     d.sink,
	})

	a.push = push.NewManager(d.dialer, push.Options{
		Retry:    push.RetryPolicy{MaxAttempts: cfg.ReconnectAttempts, Delay: cfg.ReconnectDelay},
		Clock:    d.clock,
		Logger:   d.log.With("component", "push"),
		Notifier: d.notifier,
		OnReconnect: func(ctx context.Context) {
			// Events sent while disconnected are lost; resync.
			if err := a.jobs.Refresh(ctx); err != nil {
				a.log.Warn(ctx, "refresh after reconnect failed", "error", err)
			}
		},
	})

	for _, ch := range []push.Channel{push.ChannelProgress, push.ChannelCompletion, push.ChannelFailure} {
		sub := a.push.Subscribe(ch, a.applyEvent)
		a.cleanup = append(a.cleanup, sub.Unsubscribe)
	}
	st := a.push.StatusChanges(func(s push.Status) {
		a.log.Debug(context.Background(), "push status changed", "status", s)
	})
	a.cleanup = append(a.cleanup, st.Unsubscribe)
	a.cleanup = append(a.cleanup, a.sessions.Subscribe(a.onSession))
	a.cleanup = append(a.cleanup, a.push.Close)
	return a
}

func (a *App) applyEvent(ev models.Event) {
	if err := a.jobs.ApplyEvent(ev); err != nil {
		a.log.Warn(context.Background(), "could not apply push event", "event", ev.Type, "error", err)
	}
}

// onSession runs for every session change. It must not call back into the
// session manager.
func (a *App) onSession(s session.Session) {
	a.push.OnSession(s)
	if s.State != session.StateAuthenticated {
		a.jobs.Reset()
	}
}

// Run restores the stored session in the background and runs the REPL
// until the user exits or input ends.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	fmt.Fprintln(a.out, "Welcome to EagleEye (type 'help' for commands)")
	go func() {
		state := a.sessions.Initialize(ctx)
		a.log.Debug(ctx, "session bootstrap finished", "state", state)
	}()

	runREPL(ctx, a, a.statusLine, a.reader)
	return nil
}

// Close tears down subscriptions, the push channel and the database in
// reverse order of creation.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func (a *App) decide(route guard.Route) guard.Decision {
	return guard.Evaluate(a.sessions.Current(), route, a.clock.Now(), a.config.BootstrapTimeout)
}

func (a *App) currentUser() string {
	if u := a.sessions.Current().User; u != nil {
		return u.Username
	}
	return ""
}

// statusLine is shown in the prompt: user, session state and push status.
func (a *App) statusLine() string {
	s := a.sessions.Current()
	parts := make([]string, 0, 3)
	if s.User != nil {
		parts = append(parts, s.User.Username)
	}
	parts = append(parts, s.State.String())
	if s.State == session.StateAuthenticated {
		p := "push " + a.push.Status().String()
		if a.push.Exhausted() {
			p += "!"
		}
		parts = append(parts, p)
	}
	return "(" + strings.Join(parts, " | ") + ")"
}
