package repospawn

import "context"

// Labels applied to every container started by the orchestrator.
const (
	LabelManagedBy = "repospawn.managed-by"
	LabelUser      = "repospawn.user"
	LabelRepo      = "repospawn.repo"
	LabelRevision  = "repospawn.revision"

	managedByValue = "repospawn"
)

// RepoURLEnv is the environment variable through which a launched container
// learns the repository it was built from.
const RepoURLEnv = "REPOSPAWN_REPO_URL"

// Builder is the interface over the image build engine.
type Builder interface {
	// Build builds opts.Tag from opts.Dockerfile in opts.ContextDir and
	// returns the build output, one entry per line, in order.
	// A failed build returns a *BuildError carrying the output so far.
	Build(ctx context.Context, opts BuildOptions) ([]string, error)

	// ImageExists reports whether an image tagged tag is present.
	ImageExists(ctx context.Context, tag string) (bool, error)
}

// BuildOptions configures one image build.
type BuildOptions struct {
	ContextDir string            // build context directory
	Dockerfile string            // descriptor file name, relative to ContextDir
	Tag        string            // tag to apply to the built image
	BuildArgs  map[string]string // build-time variables
	NoCache    bool              // disable the build cache
}

// Runtime is the interface over the container runtime. Containers are
// addressed by opaque ID.
type Runtime interface {
	// Inspect looks up a container. A container the runtime does not know is
	// reported as found == false with a nil error; any other failure is a
	// *RuntimeError.
	Inspect(ctx context.Context, id string) (c Container, found bool, err error)

	// Start creates and starts a container from tag. It fails with
	// *ImageNotFoundError when tag does not exist.
	Start(ctx context.Context, tag string, cfg ContainerConfig) (Container, error)

	// Remove force-removes a container. Removing an unknown container is not
	// an error.
	Remove(ctx context.Context, id string) error
}

// ContainerConfig configures a container started by Runtime.Start.
type ContainerConfig struct {
	Name    string            // container name; an existing container with this name is replaced
	Env     map[string]string // environment variables
	Labels  map[string]string // container labels
	Cmd     []string          // command override; image default when empty
	Workdir string            // working directory inside the container
}

// Container is the runtime's view of a container.
type Container struct {
	ID      string
	Name    string
	Image   string // image reference the container was created from
	Running bool
}
