package repospawn

// DefaultNamespace is the image namespace used when none is configured.
const DefaultNamespace = "repospawn"

// ResolveTag composes the content-derived image tag
// "<namespace>/<user>-<escapedRepo>-<revision>".
//
// Identical inputs always produce the identical tag; this is what lets the
// orchestrator skip the build when an image with the tag already exists.
//
// The parts are joined verbatim. Escaped repositories commonly produce
// separator runs such as "___" or "-_", and users or paths may carry
// uppercase letters; the Docker reference grammar rejects both, so current
// daemons refuse to build or run such tags. Callers that need a daemon-valid
// reference must pass inputs that are already lowercase and free of those
// runs.
func ResolveTag(namespace, user, escapedRepo, revision string) string {
	return namespace + "/" + user + "-" + escapedRepo + "-" + revision
}
