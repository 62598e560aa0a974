package repospawn

import (
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultContainerPrefix prefixes the names of started containers.
const DefaultContainerPrefix = "repospawn"

// LogArchive stores build logs for later inspection.
type LogArchive interface {
	Put(ctx context.Context, key string, lines []string) error
}

// Orchestrator decides, for one Session at a time, whether to reuse, build
// or fail, and starts the resulting container. Use NewOrchestrator to create
// one. An Orchestrator may serve many sessions concurrently.
type Orchestrator struct {
	fetcher         Fetcher
	builder         Builder
	runtime         Runtime
	archive         LogArchive
	logger          *log.Logger
	observer        func(Event)
	env             map[string]string
	buildArgs       map[string]string
	namespace       string
	containerPrefix string
	descriptors     []string
	cmd             []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNamespace sets the image namespace. Default: DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *Orchestrator) {
		o.namespace = ns
	}
}

// WithDescriptors sets the recognized build descriptor names.
// Default: DefaultDescriptors.
func WithDescriptors(names ...string) Option {
	return func(o *Orchestrator) {
		o.descriptors = slices.Clone(names)
	}
}

// WithContainerPrefix sets the container name prefix.
func WithContainerPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		o.containerPrefix = prefix
	}
}

// WithEnv sets environment variables passed to every started container.
// RepoURLEnv is always set and cannot be overridden.
func WithEnv(env map[string]string) Option {
	return func(o *Orchestrator) {
		o.env = maps.Clone(env)
	}
}

// WithBuildArgs sets build-time variables passed to every build.
func WithBuildArgs(args map[string]string) Option {
	return func(o *Orchestrator) {
		o.buildArgs = maps.Clone(args)
	}
}

// WithCmd overrides the command of started containers.
func WithCmd(cmd ...string) Option {
	return func(o *Orchestrator) {
		o.cmd = slices.Clone(cmd)
	}
}

// WithLogArchive stores every build log in archive. Archive failures are
// logged and never fail the attempt.
func WithLogArchive(archive LogArchive) Option {
	return func(o *Orchestrator) {
		o.archive = archive
	}
}

// WithLogger sets the logger. Default: a logger that discards everything.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithObserver registers fn to receive every state transition. fn is called
// synchronously on the attempt's goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// NewOrchestrator returns an Orchestrator that fetches with fetcher, builds
// with builder and starts containers on runtime.
func NewOrchestrator(fetcher Fetcher, builder Builder, runtime Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:         fetcher,
		builder:         builder,
		runtime:         runtime,
		namespace:       DefaultNamespace,
		containerPrefix: DefaultContainerPrefix,
		descriptors:     slices.Clone(DefaultDescriptors),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	return o
}

// Result describes one start attempt.
type Result struct {
	Attempt    string    // unique attempt identifier
	Tag        string    // content-derived image tag
	Revision   string    // commit SHA the tag was derived from
	Dir        string    // checkout directory; the caller removes it
	Dockerfile string    // selected descriptor; empty when the build was skipped
	BuildLog   []string  // build output; empty when the build was skipped
	Container  Container // the running container
	Built      bool      // an image build ran
	Reused     bool      // the previously stored container was kept
}

// Start runs one attempt for s: inspect the stored container, fetch the
// repository, resolve the image tag, build if the image is missing, and
// start (or keep) the container. On success s.ContainerID holds the running
// container's ID.
//
// Start always returns a non-nil Result, filled as far as the attempt got,
// so the caller can remove Result.Dir after a failure too. Errors are one of
// *FetchError, *NoDescriptorError, *BuildError, *ImageNotFoundError,
// *RuntimeError or ctx's error. Nothing is retried.
//
// If ctx is cancelled, Start returns ctx's error without waiting for the
// step in flight, which completes in the background. A checkout or a new
// container produced by that step after cancellation is removed, and s is
// never marked with such a container.
func (o *Orchestrator) Start(ctx context.Context, s *Session) (*Result, error) {
	a := &attempt{
		o:   o,
		s:   s,
		res: &Result{Attempt: uuid.NewString()},
	}
	a.logger = o.logger.With("attempt", a.res.Attempt, "user", s.User, "repo", s.RepoURL)

	if err := a.run(ctx); err != nil {
		a.logger.Error("start failed", "err", err)
		a.emit(StateError, err.Error())
		return a.res, err
	}
	return a.res, nil
}

// attempt carries the state of one Start call.
type attempt struct {
	o      *Orchestrator
	s      *Session
	res    *Result
	logger *log.Logger
}

func (a *attempt) emit(state State, data string) {
	a.logger.Debug("state", "state", state, "data", data)
	if a.o.observer != nil {
		a.o.observer(Event{
			Time:    time.Now(),
			Attempt: a.res.Attempt,
			Data:    data,
			State:   state,
		})
	}
}

func (a *attempt) run(ctx context.Context) error {
	a.emit(StateIdle, a.res.Attempt)

	prior, err := a.inspect(ctx)
	if err != nil {
		return err
	}

	a.emit(StateFetching, a.s.RepoURL)
	checkout, err := awaitOrRelease(ctx, a.o.fetcher.Fetch(ctx, a.s.RepoURL), func(co Checkout) {
		if err := os.RemoveAll(co.Dir); err != nil {
			a.logger.Warn("remove abandoned checkout", "dir", co.Dir, "err", err)
			return
		}
		a.logger.Debug("removed abandoned checkout", "dir", co.Dir)
	})
	if err != nil {
		return err
	}
	a.res.Dir = checkout.Dir
	a.res.Revision = checkout.Revision

	tag := ResolveTag(a.o.namespace, a.s.EscapedUser(), a.s.EscapedRepo(), checkout.Revision)
	a.res.Tag = tag
	a.logger = a.logger.With("tag", tag)
	a.emit(StateResolving, tag)

	exists, err := Go(ctx, func(ctx context.Context) (bool, error) {
		return a.o.builder.ImageExists(ctx, tag)
	}).Await(ctx)
	if err != nil {
		return err
	}

	if exists {
		a.logger.Info("image exists, skipping build")
		a.emit(StateBuildSkipped, tag)
	} else {
		a.emit(StateBuilding, tag)
		if err := a.build(ctx, checkout, tag); err != nil {
			return err
		}
	}

	a.emit(StateStarting, tag)
	c, reused, err := a.start(ctx, tag, checkout.Revision, prior)
	if err != nil {
		return err
	}
	// a result that raced with cancellation is dropped
	if err := ctx.Err(); err != nil {
		if !reused {
			go a.releaseContainer(context.WithoutCancel(ctx), c)
		}
		return err
	}

	a.s.ContainerID = c.ID
	a.res.Container = c
	a.res.Reused = reused
	a.emit(StateRunning, c.ID)
	return nil
}

// inspect resolves the stored container ID. A container the runtime no
// longer knows is forgotten.
func (a *attempt) inspect(ctx context.Context) (*Container, error) {
	id := a.s.ContainerID
	if id == "" {
		return nil, nil
	}

	a.emit(StateInspecting, id)
	a.logger.Debug("getting container", "container", id)

	type inspected struct {
		c     Container
		found bool
	}
	got, err := Go(ctx, func(ctx context.Context) (inspected, error) {
		c, found, err := a.o.runtime.Inspect(ctx, id)
		return inspected{c, found}, err
	}).Await(ctx)
	if err != nil {
		return nil, err
	}

	if !got.found {
		a.logger.Info("container is gone", "container", id)
		a.s.ContainerID = ""
		return nil, nil
	}

	a.s.ContainerID = got.c.ID
	return &got.c, nil
}

// build selects the descriptor and builds tag from the checkout.
func (a *attempt) build(ctx context.Context, checkout Checkout, tag string) error {
	dockerfile, err := SelectDescriptor(checkout.Dir, a.o.descriptors, a.s.RepoURL)
	if err != nil {
		var nd *NoDescriptorError
		if !errors.As(err, &nd) {
			err = &BuildError{Tag: tag, Err: err}
		}
		return err
	}
	a.res.Dockerfile = dockerfile
	a.logger.Debug("building image", "dockerfile", dockerfile)

	opts := BuildOptions{
		ContextDir: checkout.Dir,
		Dockerfile: dockerfile,
		Tag:        tag,
		BuildArgs:  a.o.buildArgs,
	}
	lines, err := Go(ctx, func(ctx context.Context) ([]string, error) {
		return a.o.builder.Build(ctx, opts)
	}).Await(ctx)

	var buildErr *BuildError
	if err != nil && errors.As(err, &buildErr) {
		lines = buildErr.Log
	}
	a.res.BuildLog = lines
	for _, line := range lines {
		a.logger.Debug(line)
	}
	a.archiveLog(ctx, tag, lines)
	if err != nil {
		return err
	}

	a.res.Built = true
	a.logger.Info("built image")

	// Verification only: a mismatch here is logged, not raised.
	exists, err := Go(ctx, func(ctx context.Context) (bool, error) {
		return a.o.builder.ImageExists(ctx, tag)
	}).Await(ctx)
	switch {
	case err != nil:
		a.logger.Warn("could not verify built image", "err", err)
	case !exists:
		a.logger.Warn("built image is not listed by the engine")
	}
	return nil
}

func (a *attempt) archiveLog(ctx context.Context, tag string, lines []string) {
	if a.o.archive == nil || len(lines) == 0 {
		return
	}
	key := buildLogKey(tag, a.res.Attempt)
	if err := a.o.archive.Put(ctx, key, lines); err != nil {
		a.logger.Warn("archive build log", "key", key, "err", err)
		return
	}
	a.logger.Debug("archived build log", "key", key)
}

// buildLogKey names the archived build log of one attempt.
func buildLogKey(tag, attempt string) string {
	return "builds/" + Escape(tag) + "/" + attempt + ".log"
}

// start keeps the prior container when it already runs tag, and otherwise
// replaces it with a new container.
func (a *attempt) start(ctx context.Context, tag, revision string, prior *Container) (Container, bool, error) {
	if prior != nil {
		if prior.Running && prior.Image == tag {
			a.logger.Info("reusing running container", "container", prior.ID)
			return *prior, true, nil
		}

		_, err := Go(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.o.runtime.Remove(ctx, prior.ID)
		}).Await(ctx)
		if err != nil {
			return Container{}, false, err
		}
		a.logger.Info("removed stale container", "container", prior.ID, "image", prior.Image)
		a.s.ContainerID = ""
	}

	cfg := a.containerConfig(revision)
	c, err := awaitOrRelease(ctx, Go(ctx, func(ctx context.Context) (Container, error) {
		return a.o.runtime.Start(ctx, tag, cfg)
	}), func(c Container) {
		a.releaseContainer(context.WithoutCancel(ctx), c)
	})
	if err != nil {
		return Container{}, false, err
	}
	a.logger.Info("started container", "container", c.ID, "name", cfg.Name)
	return c, false, nil
}

// releaseContainer removes a container started by an attempt whose caller
// has already given up on it.
func (a *attempt) releaseContainer(ctx context.Context, c Container) {
	if err := a.o.runtime.Remove(ctx, c.ID); err != nil {
		a.logger.Warn("remove abandoned container", "container", c.ID, "err", err)
		return
	}
	a.logger.Info("removed abandoned container", "container", c.ID)
}

// awaitOrRelease awaits f. When ctx ends first, a successful result that
// arrives later is handed to release instead of being dropped.
func awaitOrRelease[T any](ctx context.Context, f *Future[T], release func(T)) (T, error) {
	v, err := f.Await(ctx)
	if err == nil || ctx.Err() == nil {
		return v, err
	}
	go func() {
		if v, err := f.Await(context.Background()); err == nil {
			release(v)
		}
	}()
	return v, err
}

func (a *attempt) containerConfig(revision string) ContainerConfig {
	env := maps.Clone(a.o.env)
	if env == nil {
		env = make(map[string]string, 1)
	}
	env[RepoURLEnv] = a.s.RepoURL

	return ContainerConfig{
		Name: containerName(a.o.containerPrefix, a.s),
		Env:  env,
		Labels: map[string]string{
			LabelManagedBy: managedByValue,
			LabelUser:      a.s.User,
			LabelRepo:      a.s.RepoURL,
			LabelRevision:  revision,
		},
		Cmd: a.o.cmd,
	}
}

// containerName returns the deterministic container name for a session.
func containerName(prefix string, s *Session) string {
	return prefix + "-" + s.EscapedUser() + "-" + s.EscapedRepo()
}
