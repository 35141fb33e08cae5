package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/client/artifacts"
	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
	"github.com/dmitrijs2005/eagleeye/internal/client/notify"
	"github.com/dmitrijs2005/eagleeye/internal/clock"
	"github.com/dmitrijs2005/eagleeye/internal/logging"
)

var ErrNoSink = errors.New("no artifact sink configured")

// API is the part of the remote API the cache needs.
type API interface {
	ListJobs(ctx context.Context) ([]models.DownloadJob, error)
	DeleteJob(ctx context.Context, id int64) error
	FetchJobArtifact(ctx context.Context, id int64) (*models.Artifact, error)
}

type Options struct {
	Clock    clock.Clock
	Logger   logging.Logger
	Notifier notify.Notifier
	Sink     artifacts.Sink
}

type entry struct {
	job models.DownloadJob
	seq uint64
}

type Cache struct {
	api      API
	clock    clock.Clock
	log      logging.Logger
	notifier notify.Notifier
	sink     artifacts.Sink

	mu      sync.Mutex
	entries map[int64]*entry
	seq     uint64
	epoch   uint64 // bumped by Reset

	// deleting counts in-flight deletes per id; those ids stay hidden.
	deleting map[int64]int
	// parked holds the record of a job being deleted. Updates keep merging
	// into it, and it is restored if the delete fails.
	parked map[int64]*entry
	// removed holds the sequence at which a delete was confirmed, until a
	// snapshot started after it proves the server forgot the job too.
	removed map[int64]uint64

	fetchGen   uint64
	appliedGen uint64
	loaded     bool
	loading    chan struct{}
}

func NewCache(api API, opts Options) *Cache {
	c := &Cache{
		api:      api,
		clock:    opts.Clock,
		log:      opts.Logger,
		notifier: opts.Notifier,
		sink:     opts.Sink,
		entries:  make(map[int64]*entry),
		deleting: make(map[int64]int),
		parked:   make(map[int64]*entry),
		removed:  make(map[int64]uint64),
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	return c
}

// List returns the cached jobs, newest first. Until a fetch has succeeded
// it starts one in the background (at most one at a time) and reports
// loading.
func (c *Cache) List(ctx context.Context) ([]models.DownloadJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded && c.loading == nil {
		done := make(chan struct{})
		c.loading = done
		go func() {
			if err := c.Refresh(context.WithoutCancel(ctx)); err != nil {
				c.log.Warn(ctx, "initial job list failed", "error", err)
			}
			c.mu.Lock()
			c.loading = nil
			c.mu.Unlock()
			close(done)
		}()
	}
	return c.sortedLocked(), !c.loaded
}

// Loading returns a channel closed when the background fetch started by
// List finishes, or nil when none is running.
func (c *Cache) Loading() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading == nil {
		return nil
	}
	return c.loading
}

func (c *Cache) Get(id int64) (models.DownloadJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return models.DownloadJob{}, false
	}
	return e.job, true
}

// Refresh fetches a full snapshot and merges it. On error the cache is left
// as it was.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.fetchGen++
	gen, epoch, mark := c.fetchGen, c.epoch, c.seq
	c.mu.Unlock()

	jobs, err := c.api.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		c.log.Debug(ctx, "dropping job snapshot fetched before reset")
		return nil
	}
	if gen < c.appliedGen {
		c.log.Debug(ctx, "dropping job snapshot older than the applied one", "gen", gen)
		return nil
	}
	c.appliedGen = gen
	c.mergeLocked(jobs, mark)
	c.loaded = true
	return nil
}

func (c *Cache) mergeLocked(snapshot []models.DownloadJob, mark uint64) {
	now := c.clock.Now()
	c.seq++
	seq := c.seq

	for id, at := range c.removed {
		if at <= mark {
			delete(c.removed, id)
		}
	}

	next := make(map[int64]*entry, len(snapshot))
	for _, j := range snapshot {
		j = j.Normalize(now)
		if _, gone := c.removed[j.ID]; gone {
			continue
		}
		if c.deleting[j.ID] > 0 {
			cur, ok := c.parked[j.ID]
			c.parked[j.ID] = reconcile(cur, ok, j, mark, seq, now)
			continue
		}

		cur, ok := c.entries[j.ID]
		next[j.ID] = reconcile(cur, ok, j, mark, seq, now)
	}

	// Jobs first seen through push after the fetch began are newer than
	// the snapshot.
	for id, cur := range c.entries {
		if _, ok := next[id]; !ok && cur.seq > mark {
			next[id] = cur
		}
	}
	c.entries = next
}

// reconcile picks between a snapshot record and the cached one. The cached
// record wins only if it changed after the fetch began and is ahead.
func reconcile(cur *entry, ok bool, snap models.DownloadJob, mark, seq uint64, now time.Time) *entry {
	if ok && cur.seq > mark && ahead(cur.job, snap) {
		return &entry{job: overlay(snap, cur.job).Normalize(now), seq: cur.seq}
	}
	return &entry{job: snap, seq: seq}
}

// ahead reports whether a is strictly further along than b.
func ahead(a, b models.DownloadJob) bool {
	if a.Status.Rank() != b.Status.Rank() {
		return a.Status.Rank() > b.Status.Rank()
	}
	return a.Progress > b.Progress
}

// overlay keeps the snapshot's descriptive fields and takes the lifecycle
// fields from the push-updated record.
func overlay(snap, pushed models.DownloadJob) models.DownloadJob {
	snap.Status = pushed.Status
	snap.Progress = pushed.Progress
	snap.CompletedAt = pushed.CompletedAt
	if pushed.FilePath != "" {
		snap.FilePath = pushed.FilePath
	}
	if pushed.Error != "" {
		snap.Error = pushed.Error
	}
	return snap
}

// applyLocked runs fn on the record for id and stores what it returns.
// While a delete is in flight the parked record is updated instead. It
// reports whether the visible cache changed.
func (c *Cache) applyLocked(id int64, fn func(j models.DownloadJob, known bool) (models.DownloadJob, bool)) bool {
	if _, gone := c.removed[id]; gone {
		return false
	}
	m := c.entries
	if c.deleting[id] > 0 {
		m = c.parked
	}

	j := models.DownloadJob{ID: id}
	cur, known := m[id]
	if known {
		j = cur.job
	}
	j, changed := fn(j, known)
	if !changed {
		return false
	}
	c.seq++
	m[id] = &entry{job: j.Normalize(c.clock.Now()), seq: c.seq}
	return c.deleting[id] == 0
}

// ApplyProgress merges a progress update. It reports whether the cache
// changed. Unknown jobs are inserted; a lower progress for a downloading
// job, a status regression, and any non-terminal update to a finished job
// are ignored as out of order. Terminal statuses always apply.
func (c *Cache) ApplyProgress(id int64, progress float64, status models.JobStatus) bool {
	if status == "" {
		status = models.JobDownloading
	}
	if !status.Valid() {
		return false
	}
	progress = models.ClampProgress(progress)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(id, func(j models.DownloadJob, known bool) (models.DownloadJob, bool) {
		if known {
			switch {
			case status.Terminal():
			case j.Status.Terminal():
				return j, false
			case status.Rank() < j.Status.Rank():
				return j, false
			case status == models.JobDownloading && j.Status == models.JobDownloading && progress < j.Progress:
				return j, false
			}
		}
		if status == models.JobCompleted && j.Status != models.JobCompleted {
			j.CompletedAt = nil
		}
		j.Status = status
		j.Progress = progress
		return j, true
	})
}

// ApplyCompletion marks a job completed with its artifact path.
func (c *Cache) ApplyCompletion(id int64, filePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(id, func(j models.DownloadJob, _ bool) (models.DownloadJob, bool) {
		if j.Status != models.JobCompleted {
			j.CompletedAt = nil
		}
		j.Status = models.JobCompleted
		j.FilePath = filePath
		j.Error = ""
		return j, true
	})
}

// ApplyFailure marks a job failed with the reported message.
func (c *Cache) ApplyFailure(id int64, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(id, func(j models.DownloadJob, _ bool) (models.DownloadJob, bool) {
		j.Status = models.JobFailed
		j.Error = message
		return j, true
	})
}

// ApplyEvent decodes a push event and applies it. Events that carry no job
// update are ignored.
func (c *Cache) ApplyEvent(ev models.Event) error {
	switch ev.Type {
	case models.EventProgress:
		p, err := ev.Progress()
		if err != nil {
			return err
		}
		c.ApplyProgress(p.DownloadID, p.Progress, p.Status)
	case models.EventComplete:
		p, err := ev.Completion()
		if err != nil {
			return err
		}
		c.ApplyCompletion(p.DownloadID, p.FilePath)
	case models.EventError:
		p, err := ev.Failure()
		if err != nil {
			return err
		}
		c.ApplyFailure(p.DownloadID, p.Error)
	}
	return nil
}

// DeleteJob removes the job right away and asks the server to delete it.
// On failure the job is restored, including any updates that arrived
// while the request was in flight.
func (c *Cache) DeleteJob(ctx context.Context, id int64) error {
	c.mu.Lock()
	if cur, ok := c.entries[id]; ok {
		c.parked[id] = cur
		delete(c.entries, id)
	}
	c.deleting[id]++
	epoch := c.epoch
	c.mu.Unlock()

	err := c.api.DeleteJob(ctx, id)

	c.mu.Lock()
	if epoch == c.epoch {
		c.deleting[id]--
		if err == nil {
			c.seq++
			c.removed[id] = c.seq
			delete(c.parked, id)
		}
		if c.deleting[id] <= 0 {
			delete(c.deleting, id)
			if p, ok := c.parked[id]; ok {
				delete(c.parked, id)
				if _, gone := c.removed[id]; !gone {
					c.entries[id] = p
				}
			}
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn(ctx, "delete job failed", "id", id, "error", err)
		c.notifier.Failure(client.Reason(err, "Failed to delete download"))
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	c.notifier.Success("Download deleted successfully")
	return nil
}

// FetchArtifact downloads a completed job's file into the sink and returns
// its location. The cache is not touched.
func (c *Cache) FetchArtifact(ctx context.Context, id int64) (string, error) {
	if c.sink == nil {
		c.notifier.Failure("Failed to download file")
		return "", ErrNoSink
	}

	art, err := c.api.FetchJobArtifact(ctx, id)
	if err != nil {
		c.notifier.Failure(client.Reason(err, "Failed to download file"))
		return "", fmt.Errorf("fetch artifact %d: %w", id, err)
	}
	defer art.Body.Close()

	name := FilenameFromDisposition(art.ContentDisposition)
	loc, err := c.sink.Save(ctx, name, art.Body)
	if err != nil {
		c.notifier.Failure("Failed to download file")
		return "", fmt.Errorf("save artifact %s: %w", name, err)
	}

	c.log.Info(ctx, "artifact saved", "id", id, "location", loc)
	c.notifier.Success("File download started")
	return loc, nil
}

// Reset forgets everything. Fetches and deletes still in flight are
// discarded when they return.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[int64]*entry)
	c.deleting = make(map[int64]int)
	c.parked = make(map[int64]*entry)
	c.removed = make(map[int64]uint64)
	c.loaded = false
}

func (c *Cache) sortedLocked() []models.DownloadJob {
	out := make([]models.DownloadJob, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
