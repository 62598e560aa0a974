package repospawn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the subset of the Docker Engine client used by DockerEngine.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerEngine implements Builder and Runtime on the Docker Engine API.
// It holds no mutable state of its own and may be shared across sessions.
type DockerEngine struct {
	api dockerAPI
}

// NewDockerEngine returns a DockerEngine configured from the environment
// (DOCKER_HOST, DOCKER_CERT_PATH, ...) with API version negotiation.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDockerUnavailable, err)
	}
	return &DockerEngine{api: cli}, nil
}

// Preflight checks that the Docker daemon is reachable.
// Returns ErrDockerUnavailable if the daemon cannot be contacted.
func (d *DockerEngine) Preflight(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDockerUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (d *DockerEngine) Close() error {
	return d.api.Close()
}

// Build implements Builder.
func (d *DockerEngine) Build(ctx context.Context, opts BuildOptions) ([]string, error) {
	buildContext, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return nil, &BuildError{Tag: opts.Tag, Err: fmt.Errorf("archive build context: %w", err)}
	}
	defer buildContext.Close()

	resp, err := d.api.ImageBuild(ctx, buildContext, buildImageOptions(opts))
	if err != nil {
		return nil, &BuildError{Tag: opts.Tag, Err: err}
	}
	defer resp.Body.Close()

	return readBuildLog(resp.Body, opts.Tag)
}

// buildImageOptions maps BuildOptions onto the engine's build options.
func buildImageOptions(opts BuildOptions) types.ImageBuildOptions {
	var args map[string]*string
	if len(opts.BuildArgs) > 0 {
		args = make(map[string]*string, len(opts.BuildArgs))
		for k, v := range opts.BuildArgs {
			args[k] = &v
		}
	}
	return types.ImageBuildOptions{
		Tags:       []string{opts.Tag},
		Dockerfile: opts.Dockerfile,
		BuildArgs:  args,
		NoCache:    opts.NoCache,
		Remove:     true,
	}
}

// readBuildLog decodes the engine's JSON message stream into output lines.
// An error message in the stream ends the build with a *BuildError.
func readBuildLog(r io.Reader, tag string) ([]string, error) {
	dec := json.NewDecoder(r)
	var lines []string
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return lines, &BuildError{Tag: tag, Log: lines, Err: fmt.Errorf("decode build output: %w", err)}
		}
		if msg.Error != nil {
			return lines, &BuildError{Tag: tag, Log: lines, Err: msg.Error}
		}
		if msg.ErrorMessage != "" {
			return lines, &BuildError{Tag: tag, Log: lines, Err: errors.New(msg.ErrorMessage)}
		}
		lines = append(lines, messageLines(msg)...)
	}
}

// messageLines renders one stream message as zero or more log lines.
func messageLines(msg jsonmessage.JSONMessage) []string {
	switch {
	case msg.Stream != "":
		var out []string
		for _, line := range strings.Split(strings.TrimRight(msg.Stream, "\n"), "\n") {
			if strings.TrimSpace(line) != "" {
				out = append(out, line)
			}
		}
		return out
	case msg.Status != "" && msg.ID != "":
		return []string{msg.ID + ": " + msg.Status}
	case msg.Status != "":
		return []string{msg.Status}
	}
	return nil
}

// ImageExists implements Builder.
func (d *DockerEngine) ImageExists(ctx context.Context, tag string) (bool, error) {
	images, err := d.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", tag)),
	})
	if err != nil {
		return false, &RuntimeError{Op: "list images", ID: tag, Err: err}
	}
	return len(images) > 0, nil
}

// Inspect implements Runtime.
func (d *DockerEngine) Inspect(ctx context.Context, id string) (Container, bool, error) {
	info, err := d.api.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Container{}, false, nil
		}
		return Container{}, false, &RuntimeError{Op: "inspect", ID: id, Err: err}
	}

	c := Container{ID: id}
	if info.ContainerJSONBase != nil {
		c.ID = info.ID
		c.Name = strings.TrimPrefix(info.Name, "/")
		if info.State != nil {
			c.Running = info.State.Running
		}
	}
	if info.Config != nil {
		c.Image = info.Config.Image
	}
	return c, true, nil
}

// Start implements Runtime.
func (d *DockerEngine) Start(ctx context.Context, tag string, cfg ContainerConfig) (Container, error) {
	if cfg.Name != "" {
		if err := d.removeByName(ctx, cfg.Name); err != nil {
			return Container{}, err
		}
	}

	containerCfg := &container.Config{
		Image:      tag,
		Env:        envList(cfg.Env),
		Labels:     cfg.Labels,
		Cmd:        cfg.Cmd,
		WorkingDir: cfg.Workdir,
	}

	resp, err := d.api.ContainerCreate(ctx, containerCfg, &container.HostConfig{}, nil, nil, cfg.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Container{}, &ImageNotFoundError{Tag: tag, Err: err}
		}
		return Container{}, &RuntimeError{Op: "create", ID: tag, Err: err}
	}

	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.api.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return Container{}, &RuntimeError{Op: "start", ID: resp.ID, Err: err}
	}

	return Container{ID: resp.ID, Name: cfg.Name, Image: tag, Running: true}, nil
}

// Remove implements Runtime.
func (d *DockerEngine) Remove(ctx context.Context, id string) error {
	err := d.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return &RuntimeError{Op: "remove", ID: id, Err: err}
	}
	return nil
}

// removeByName removes any container holding name, which is left behind
// when an earlier attempt started a container but its ID was never stored.
func (d *DockerEngine) removeByName(ctx context.Context, name string) error {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return &RuntimeError{Op: "list containers", ID: name, Err: err}
	}
	for _, c := range containers {
		for _, n := range c.Names {
			// the name filter matches substrings
			if n == "/"+name {
				if err := d.Remove(ctx, c.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// envList renders env as sorted K=V pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
