// Package repospawn builds a per-user, per-repository container image on
// demand and launches a container from it.
//
// The image identity is derived from the repository content: the remote is
// shallow-cloned, HEAD is resolved to a commit SHA, and the tag
//
//	<namespace>/<user>-<escaped repo url>-<sha>
//
// names the image. If an image with that tag already exists the build is
// skipped, so repeated starts of an unchanged repository are cheap.
//
// # Basic usage
//
//	lane := repospawn.NewLane()
//	defer lane.Close()
//
//	engine, err := repospawn.NewDockerEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	o := repospawn.NewOrchestrator(
//	    repospawn.NewGitFetcher(lane, os.TempDir()),
//	    engine,
//	    engine,
//	)
//
//	s := &repospawn.Session{User: "alice", RepoURL: "https://example.com/x.git"}
//	res, err := o.Start(ctx, s)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Container.ID, res.Tag)
//
// # Attempt lifecycle
//
// Orchestrator.Start walks one attempt through a fixed sequence of states
// and reports each transition to an optional observer:
//
//	Idle → Inspecting → Fetching → Resolving → (BuildSkipped | Building) → Starting → Running
//
// Any step may end the attempt in Error. Nothing is retried; the host starts
// a fresh attempt if it wants one. A stored container ID that the runtime no
// longer knows about is cleared silently.
//
// # Concurrency
//
// Every external call is a Future awaited with the caller's context. Git
// fetches additionally run on a single-worker Lane, so at most one clone is
// in flight per process. Cancelling the context stops the wait, not the
// work: a running clone or build finishes in the background and its result
// is dropped.
package repospawn
