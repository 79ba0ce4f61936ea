package domain

import "time"

// ChangeKind describes what happened to a file.
type ChangeKind int

const (
	ChangeModify ChangeKind = iota
	ChangeCreate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeDelete:
		return "delete"
	default:
		return "modify"
	}
}

// ChangeEvent is a single classified file-system change. It is consumed once by
// the build engine and then discarded.
type ChangeEvent struct {
	Path string
	Kind ChangeKind
	Classification
	DetectedAt time.Time
}

// NewChangeEvent classifies path against roots and wraps it as an event.
func NewChangeEvent(path string, kind ChangeKind, roots []WatchRoot) ChangeEvent {
	return ChangeEvent{
		Path:           path,
		Kind:           kind,
		Classification: Classify(path, roots),
		DetectedAt:     time.Now(),
	}
}

// ActionResult summarises what the build engine did for one change (or one
// group of changes to the same module and role).
type ActionResult struct {
	Module            string
	Role              Role
	Recompiled        bool
	Redeployed        bool
	FeaturesInstalled bool
	RestartRequired   bool
	TestsQueued       bool
	Err               error
}

// SourceSet selects main or test sources for compilation.
type SourceSet string

const (
	SourceMain SourceSet = "main"
	SourceTest SourceSet = "test"
)
