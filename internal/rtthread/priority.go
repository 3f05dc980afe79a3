package rtthread

// MaxPriority is the highest realtime priority handed to any driver task.
const MaxPriority = 98

// Priority offsets relative to the engine's own realtime priority.
const (
	MIDIRelativePriority       = 4
	PacketizerRelativePriority = 5
)

// Priority describes how a task is scheduled.
type Priority struct {
	Value    int
	Realtime bool
}

// ComputePriority offsets base by relative and clamps the result to MaxPriority.
// The value is still computed for non-realtime tasks so it can be logged.
func ComputePriority(base, relative int, realtime bool) Priority {
	p := base + relative
	if p > MaxPriority {
		p = MaxPriority
	}
	return Priority{Value: p, Realtime: realtime}
}
