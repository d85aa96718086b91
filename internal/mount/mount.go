// Package mount assembles the inode registry, pass-through filesystem,
// observer dispatch, recorder, queue, applier, and patch store into one
// running instance, mirroring the way gcsfuse's cmd.mountWithStorageHandle
// builds a fs.ServerConfig and hands it to fs.NewServer before the FUSE
// bind itself. The actual syscall-level FUSE bind lives in cmd/izefs,
// which is the only place that touches github.com/jacobsa/fuse directly.
package mount

import (
	"context"
	"fmt"
	"os"

	"github.com/fluid-notion-systems/ize/internal/applier"
	"github.com/fluid-notion-systems/ize/internal/clock"
	"github.com/fluid-notion-systems/ize/internal/config"
	"github.com/fluid-notion-systems/ize/internal/logger"
	"github.com/fluid-notion-systems/ize/internal/metrics"
	"github.com/fluid-notion-systems/ize/internal/observer"
	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/fluid-notion-systems/ize/internal/passthrough"
	"github.com/fluid-notion-systems/ize/internal/patchstore"
	"github.com/fluid-notion-systems/ize/internal/queue"
	"github.com/fluid-notion-systems/ize/internal/recorder"
	"github.com/fluid-notion-systems/ize/internal/registry"
)

// Config is the small set of knobs needed to assemble an Instance. Project
// directory discovery, project.toml, and the central-directory layout that
// would ordinarily populate these fields are out of scope (spec.md §1) and
// are the caller's (cmd/izefs's) responsibility.
type Config struct {
	SourceDir string
	BareDir   string
	Channel   string

	Uid, Gid          uint32
	FileMode, DirMode os.FileMode

	Queue   config.QueueConfig
	Applier config.ApplierConfig
}

// Instance is one running assembly of every in-process component. Its
// zero value is not usable; construct with New.
type Instance struct {
	Registry   *registry.Registry
	Dispatcher *observer.Dispatcher
	Recorder   *recorder.Recorder
	Queue      *queue.Queue
	Applier    *applier.Applier
	Store      patchstore.Store
	Metrics    *metrics.Registry

	cancel context.CancelFunc
	done   chan error
}

// New wires every component together. It opens (or initializes, if absent)
// the patch store's bare repository and registers the recorder as the
// dispatcher's sole observer.
func New(ctx context.Context, cfg Config) (*Instance, error) {
	reg := registry.New()

	pt := passthrough.New(passthrough.Config{
		SourceDir: cfg.SourceDir,
		Uid:       cfg.Uid,
		Gid:       cfg.Gid,
		FileMode:  cfg.FileMode,
		DirMode:   cfg.DirMode,
	}, reg)

	dispatcher := observer.New(pt)

	q := queue.New(cfg.Queue.Capacity)
	seq := opcode.NewSequencer(clock.RealClock{})
	rec := recorder.New(reg, seq, q)
	dispatcher.Register(rec)

	store := patchstore.NewMemoryStore()
	if err := store.Open(ctx, cfg.BareDir); err != nil {
		logger.Infof("mount: initializing new patch store at %q", cfg.BareDir)
		if err := store.Init(ctx, cfg.BareDir); err != nil {
			return nil, fmt.Errorf("mount: init patch store: %w", err)
		}
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "main"
	}
	if err := store.LoadChannel(ctx, channel); err != nil {
		if err := store.CreateChannel(ctx, channel); err != nil {
			return nil, fmt.Errorf("mount: create channel %q: %w", channel, err)
		}
	}

	app := applier.New(q, store, clock.RealClock{}, cfg.Applier, channel)

	m := metrics.NewRegistry()
	rec.SetMetrics(m)
	app.SetMetrics(m)

	return &Instance{
		Registry:   reg,
		Dispatcher: dispatcher,
		Recorder:   rec,
		Queue:      q,
		Applier:    app,
		Store:      store,
		Metrics:    m,
	}, nil
}

// Run starts the applier's background goroutine and returns immediately.
// Shutdown must be called to stop it.
func (inst *Instance) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	inst.cancel = cancel
	inst.done = make(chan error, 1)

	go func() {
		inst.done <- inst.Applier.Run(runCtx)
	}()
}

// Shutdown cancels the applier, waiting for its drain-to-deadline to
// finish (spec.md §5 "Cancellation").
func (inst *Instance) Shutdown() error {
	if inst.cancel == nil {
		return nil
	}
	inst.cancel()
	return <-inst.done
}
