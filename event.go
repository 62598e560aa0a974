package repospawn

import "time"

// State is a step of a start attempt.
type State int

const (
	// StateIdle is the entry state. Data contains the attempt ID.
	StateIdle State = iota

	// StateInspecting is entered when the stored container ID is looked up.
	// Data contains the container ID.
	StateInspecting

	// StateFetching is entered when the repository clone is submitted.
	// Data contains the repository URL.
	StateFetching

	// StateResolving is entered once the revision is known.
	// Data contains the image tag.
	StateResolving

	// StateBuildSkipped is entered when an image with the tag already exists.
	// Data contains the image tag.
	StateBuildSkipped

	// StateBuilding is entered when the image build begins.
	// Data contains the image tag.
	StateBuilding

	// StateStarting is entered when the container is about to be started.
	// Data contains the image tag.
	StateStarting

	// StateRunning is the terminal success state.
	// Data contains the container ID.
	StateRunning

	// StateError is the terminal failure state.
	// Data contains the error message.
	StateError
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateInspecting:   "inspecting",
	StateFetching:     "fetching",
	StateResolving:    "resolving",
	StateBuildSkipped: "build-skipped",
	StateBuilding:     "building",
	StateStarting:     "starting",
	StateRunning:      "running",
	StateError:        "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateRunning || s == StateError
}

// Event reports a state transition of one attempt.
//
// Ordering guarantees:
//   - Built:    Idle → [Inspecting] → Fetching → Resolving → Building → Starting → Running
//   - Reused:   Idle → [Inspecting] → Fetching → Resolving → BuildSkipped → Starting → Running
//   - Failure:  Idle → ... → Error
//
// Inspecting appears only when the Session has a stored container ID.
type Event struct {
	Time    time.Time
	Attempt string
	Data    string
	State   State
}
