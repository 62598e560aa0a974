package repospawn

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
)

// Checkout is a fetched working tree and the revision HEAD resolved to.
type Checkout struct {
	Dir      string // scratch directory holding the tree; owned by the caller
	Revision string // full commit SHA of HEAD
}

// Fetcher retrieves a remote repository.
type Fetcher interface {
	// Fetch shallow-clones url into a fresh directory and resolves HEAD.
	// The returned Future fails with a *FetchError, or with ctx's error when
	// ctx ends before the clone could be queued.
	// The directory in a successful Checkout is not removed by the Fetcher.
	Fetch(ctx context.Context, url string) *Future[Checkout]
}

// GitFetcher implements Fetcher with go-git. Clones run on a shared Lane so
// that at most one is in flight per process.
type GitFetcher struct {
	lane       *Lane
	scratchDir string
	depth      int
}

// NewGitFetcher returns a GitFetcher that creates scratch directories under
// scratchDir (os.TempDir when empty) and clones on lane.
func NewGitFetcher(lane *Lane, scratchDir string) *GitFetcher {
	return &GitFetcher{
		lane:       lane,
		scratchDir: scratchDir,
		depth:      1,
	}
}

// Fetch implements Fetcher.
func (g *GitFetcher) Fetch(ctx context.Context, url string) *Future[Checkout] {
	f := Submit(ctx, g.lane, func(ctx context.Context) (Checkout, error) {
		return g.clone(ctx, url)
	})
	select {
	case <-f.Done():
		if errors.Is(f.err, ErrLaneClosed) {
			failed := newFuture[Checkout]()
			failed.resolve(Checkout{}, &FetchError{URL: url, Err: f.err})
			return failed
		}
	default:
	}
	return f
}

// clone runs on the lane worker.
func (g *GitFetcher) clone(ctx context.Context, url string) (Checkout, error) {
	if url == "" {
		return Checkout{}, &FetchError{URL: url, Err: errors.New("empty repository url")}
	}

	dir, err := os.MkdirTemp(g.scratchDir, "repospawn-*")
	if err != nil {
		return Checkout{}, &FetchError{URL: url, Err: fmt.Errorf("create scratch directory: %w", err)}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          url,
		Depth:        g.depth,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return Checkout{}, &FetchError{URL: url, Err: fmt.Errorf("clone: %w", err)}
	}

	head, err := repo.Head()
	if err != nil {
		_ = os.RemoveAll(dir)
		return Checkout{}, &FetchError{URL: url, Err: fmt.Errorf("resolve HEAD: %w", err)}
	}

	return Checkout{Dir: dir, Revision: head.Hash().String()}, nil
}
