package tile

// State is the lifecycle state of a cached tile.
//
//	Void -> Pending -> (Fetching) -> Ready <-> Flushed
//	                              \-> Error
//
// A tile is Fetching once a worker has taken its request off the queue.
type State int

const (
	Void State = iota
	Pending
	Fetching
	Ready
	Flushed
	Error
)

var stateNames = [...]string{"void", "pending", "fetching", "ready", "flushed", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// States lists every state, in declaration order.
func States() []State {
	return []State{Void, Pending, Fetching, Ready, Flushed, Error}
}

// Mode describes how trustworthy the content of a tile is.
type Mode int

const (
	// Blank is placeholder content, typically a single color.
	Blank Mode = iota
	// Approximated content is derived from another zoom level or from an
	// expired copy of the tile.
	Approximated
	// Complete content is loaded and up to date.
	Complete
)

func (m Mode) String() string {
	switch m {
	case Blank:
		return "blank"
	case Approximated:
		return "approximated"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}
