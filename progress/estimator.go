package progress

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/scopetools/beamline/config"
)

// Estimate is one point-in-time progress figure for a job
type Estimate struct {
	JobType     string `json:"job_type"`
	Mode        Mode   `json:"mode"`
	Done        int    `json:"done"`
	Total       int    `json:"total,omitempty"` // 0 when no expectation is known
	Description string `json:"description,omitempty"`
}

// Fraction returns completion in [0,1], or 0 when no total is known
func (e *Estimate) Fraction() float64 {
	if e.Total <= 0 {
		return 0
	}
	f := float64(e.Done) / float64(e.Total)
	if f > 1 {
		return 1
	}
	return f
}

// cacheKey identifies one scan result. The caller's expected total is
// deliberately not part of the key: it only shapes the returned figure and
// must not fragment the cache.
type cacheKey struct {
	dir     string
	jobType string
}

// cacheEntry is a completed or in-flight scan. Waiters block on ready, so
// concurrent pollers of the same directory share a single scan.
type cacheEntry struct {
	ready chan struct{}
	at    time.Time
	done  int
	err   error
}

// Estimator scans output directories against the descriptor table, with a
// short-lived cache in front so dashboard polling does not hammer shared
// filesystems.
type Estimator struct {
	table  map[string]Descriptor
	ttl    time.Duration
	logger *zap.SugaredLogger

	// swapped out in tests to observe and block scans
	scan func(dir string, d Descriptor) (int, error)

	mu    sync.Mutex
	cache map[cacheKey]*cacheEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEstimator builds an estimator from the progress configuration,
// loading the optional descriptor override file. Close releases the cache
// sweeper.
func NewEstimator(cfg config.ProgressConfig, logger *zap.SugaredLogger) (*Estimator, error) {
	table, err := loadDescriptorTable(cfg.DescriptorFile)
	if err != nil {
		return nil, err
	}

	e := &Estimator{
		table:  table,
		ttl:    cfg.CacheTTL(),
		logger: logger.Named("progress"),
		scan:   scanDir,
		cache:  make(map[cacheKey]*cacheEntry),
		stop:   make(chan struct{}),
	}
	go e.sweep()
	return e, nil
}

// Close stops the background cache sweeper
func (e *Estimator) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Estimate returns the current progress figure for a job's output
// directory, or (nil, nil) for job types without a descriptor: unknown
// types are simply not estimable, which is not an error.
//
// Results are cached per (directory, job type) for the configured TTL, and
// concurrent callers for the same key share one filesystem scan.
func (e *Estimator) Estimate(outputDir, jobType string, expectedTotal int) (*Estimate, error) {
	desc, ok := e.table[jobType]
	if !ok {
		return nil, nil
	}

	key := cacheKey{dir: outputDir, jobType: jobType}

	e.mu.Lock()
	entry := e.cache[key]
	if entry != nil {
		select {
		case <-entry.ready:
			if time.Since(entry.at) >= e.ttl {
				entry = nil // stale, rescan
			}
		default:
			// scan in flight, join it
		}
	}
	if entry == nil {
		entry = &cacheEntry{ready: make(chan struct{})}
		e.cache[key] = entry
		e.mu.Unlock()

		entry.done, entry.err = e.scan(filepath.Join(outputDir, desc.Subdir), desc)
		entry.at = time.Now()
		close(entry.ready)
	} else {
		e.mu.Unlock()
		<-entry.ready
	}

	if entry.err != nil {
		return nil, entry.err
	}
	return shape(jobType, desc, entry.done, expectedTotal), nil
}

// shape turns a raw scan figure into the caller-facing estimate
func shape(jobType string, desc Descriptor, done, expectedTotal int) *Estimate {
	est := &Estimate{
		JobType:     jobType,
		Mode:        desc.Mode,
		Done:        done,
		Total:       expectedTotal,
		Description: desc.Description,
	}
	if desc.Mode == ModeBoolean {
		est.Total = 1
		if done > 0 {
			est.Done = 1
		}
	}
	return est
}

// sweep evicts entries that have outlived any plausible reuse
func (e *Estimator) sweep() {
	ticker := time.NewTicker(e.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * e.ttl)
			e.mu.Lock()
			for key, entry := range e.cache {
				select {
				case <-entry.ready:
					if entry.at.Before(cutoff) {
						delete(e.cache, key)
					}
				default:
				}
			}
			e.mu.Unlock()
		}
	}
}

// iterationPattern extracts the iteration number tools embed in their
// per-iteration output file names
var iterationPattern = regexp.MustCompile(`_it(\d+)_`)

// scanDir applies the descriptor's globs to the directory and reduces the
// matches according to its mode. A directory that does not exist yet means
// zero progress, not an error: the job simply has not written anything.
func scanDir(dir string, d Descriptor) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	fsys := os.DirFS(dir)
	matched := make(map[string]bool)
	for _, pattern := range d.Include {
		names, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return 0, err
		}
		for _, name := range names {
			matched[name] = true
		}
	}

	for name := range matched {
		for _, pattern := range d.Exclude {
			if ok, _ := doublestar.Match(pattern, name); ok {
				delete(matched, name)
				break
			}
		}
	}

	if d.Mode == ModeIteration {
		maxIter := 0
		for name := range matched {
			m := iterationPattern.FindStringSubmatch(filepath.Base(name))
			if m == nil {
				continue
			}
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxIter {
				maxIter = n
			}
		}
		return maxIter, nil
	}
	return len(matched), nil
}
