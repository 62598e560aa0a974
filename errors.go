package repospawn

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFetch is matched by every *FetchError.
var ErrFetch = errors.New("repository fetch failed")

// ErrNoDescriptor is returned when a fetched repository contains no recognized build descriptor.
var ErrNoDescriptor = errors.New("no build descriptor found")

// ErrBuildFailed is returned when the image build fails.
var ErrBuildFailed = errors.New("image build failed")

// ErrImageNotFound is returned when a container is started from a tag the runtime does not know.
var ErrImageNotFound = errors.New("image not found")

// ErrRuntime is matched by every *RuntimeError.
var ErrRuntime = errors.New("container runtime error")

// ErrDockerUnavailable is returned when the Docker daemon cannot be reached.
var ErrDockerUnavailable = errors.New("docker is not available")

// FetchError reports a failed clone or an unresolvable revision.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrFetch, e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

// NoDescriptorError names the repository that lacks a build descriptor.
type NoDescriptorError struct {
	Repo  string
	Names []string // recognized descriptor names that were looked for
}

func (e *NoDescriptorError) Error() string {
	return fmt.Sprintf("%v at the repository %s (looked for %s)", ErrNoDescriptor, e.Repo, strings.Join(e.Names, ", "))
}

func (e *NoDescriptorError) Unwrap() error { return ErrNoDescriptor }

// BuildError carries the build output captured up to the failure.
type BuildError struct {
	Tag string
	Log []string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrBuildFailed, e.Tag, e.Err)
}

func (e *BuildError) Unwrap() []error { return []error{ErrBuildFailed, e.Err} }

// ImageNotFoundError is returned by Runtime.Start when tag does not exist.
type ImageNotFoundError struct {
	Tag string
	Err error
}

func (e *ImageNotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrImageNotFound, e.Tag)
	}
	return fmt.Sprintf("%v: %s: %v", ErrImageNotFound, e.Tag, e.Err)
}

func (e *ImageNotFoundError) Unwrap() []error { return []error{ErrImageNotFound, e.Err} }

// RuntimeError wraps a container runtime failure other than not-found.
// Op names the runtime call, ID the container or image it was made for.
type RuntimeError struct {
	Op  string
	ID  string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%v: %s: %v", ErrRuntime, e.Op, e.Err)
	}
	return fmt.Sprintf("%v: %s %s: %v", ErrRuntime, e.Op, e.ID, e.Err)
}

func (e *RuntimeError) Unwrap() []error { return []error{ErrRuntime, e.Err} }
