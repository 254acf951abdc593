package memwatch

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const (
	// DefaultMaxMemoryMB is the hard memory budget.
	DefaultMaxMemoryMB = 2048

	// DefaultGCThresholdMB is the usage level that triggers a cleanup pass.
	DefaultGCThresholdMB = 1024

	// DefaultCheckInterval is how often usage is sampled.
	DefaultCheckInterval = 30 * time.Second
)

// CleanupFunc releases memory held by a subsystem, e.g. dropping a cache.
type CleanupFunc func(ctx context.Context)

// Config configures a Watcher.
type Config struct {
	// MaxMemoryMB is the hard budget; near it the watcher runs an
	// aggressive cleanup. Default: 2048.
	MaxMemoryMB int

	// GCThresholdMB triggers a normal cleanup pass. Default: 1024.
	GCThresholdMB int

	// CheckInterval is the sampling period. Default: 30s.
	CheckInterval time.Duration
}

// Watcher samples the process's resident memory and runs registered cleanup
// callbacks when usage crosses the configured thresholds. Callbacks are the
// escape hatch for subsystems holding droppable state: snapshot caches,
// health verdict caches and the like.
type Watcher struct {
	cfg    Config
	logger *zap.Logger
	proc   *process.Process

	mu        sync.Mutex
	callbacks []CleanupFunc
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a memory watcher for the current process.
func New(cfg Config, logger *zap.Logger) (*Watcher, error) {
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if cfg.GCThresholdMB <= 0 {
		cfg.GCThresholdMB = DefaultGCThresholdMB
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Watcher{cfg: cfg, logger: logger, proc: proc}, nil
}

// AddCleanup registers a callback invoked during cleanup passes.
func (w *Watcher) AddCleanup(fn CleanupFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start launches the monitoring loop. No-op if already running.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	w.logger.Info("started memory monitoring",
		zap.Int("max_mb", w.cfg.MaxMemoryMB),
		zap.Int("gc_threshold_mb", w.cfg.GCThresholdMB))

	go w.monitor(ctx, done)
}

// Stop halts the monitoring loop and waits for it to exit. No-op if not
// running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("stopped memory monitoring")
}

func (w *Watcher) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	usage, err := w.UsageMB()
	if err != nil {
		w.logger.Error("memory sample failed", zap.Error(err))
		return
	}

	w.logger.Debug("memory usage",
		zap.Float64("usage_mb", usage),
		zap.Int("max_mb", w.cfg.MaxMemoryMB))

	if usage > float64(w.cfg.MaxMemoryMB)*0.9 {
		w.logger.Error("memory usage critical, forcing aggressive cleanup",
			zap.Float64("usage_mb", usage))
		w.ForceCleanup(ctx)
		return
	}

	if usage > float64(w.cfg.GCThresholdMB) {
		w.logger.Warn("memory usage high, running cleanup",
			zap.Float64("usage_mb", usage))
		w.Cleanup(ctx)
	}
}

// UsageMB returns the process's current resident set size in megabytes.
func (w *Watcher) UsageMB() (float64, error) {
	info, err := w.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / (1024 * 1024), nil
}

// Cleanup runs every registered callback and a garbage collection pass.
func (w *Watcher) Cleanup(ctx context.Context) {
	w.mu.Lock()
	callbacks := make([]CleanupFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx)
	}
	runtime.GC()

	if usage, err := w.UsageMB(); err == nil {
		w.logger.Info("memory cleanup complete", zap.Float64("usage_mb", usage))
	}
}

// ForceCleanup runs Cleanup and then returns freed memory to the OS eagerly
// instead of waiting for the runtime's background scavenger.
func (w *Watcher) ForceCleanup(ctx context.Context) {
	w.Cleanup(ctx)
	debug.FreeOSMemory()
}

// Stats is a read-only snapshot of memory state.
type Stats struct {
	RSSMB     float64
	VMSMB     float64
	Percent   float32
	Callbacks int
}

// Stats returns memory statistics for the process.
func (w *Watcher) Stats() (Stats, error) {
	info, err := w.proc.MemoryInfo()
	if err != nil {
		return Stats{}, err
	}
	percent, err := w.proc.MemoryPercent()
	if err != nil {
		return Stats{}, err
	}

	w.mu.Lock()
	callbacks := len(w.callbacks)
	w.mu.Unlock()

	return Stats{
		RSSMB:     float64(info.RSS) / (1024 * 1024),
		VMSMB:     float64(info.VMS) / (1024 * 1024),
		Percent:   percent,
		Callbacks: callbacks,
	}, nil
}
