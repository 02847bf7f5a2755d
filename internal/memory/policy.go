package memory

// Action is a discrete retention decision, ordered from most to least
// preserving. Larger values are more destructive.
type Action int

const (
	KeepAll Action = iota
	Downgrade
	TextOnly
	MergeOrDelete
)

func (a Action) String() string {
	switch a {
	case KeepAll:
		return "keep_all"
	case Downgrade:
		return "downgrade"
	case TextOnly:
		return "text_only"
	case MergeOrDelete:
		return "merge_or_delete"
	}
	return "unknown"
}

// Policy maps a utility scalar to a retention action via three ordered
// thresholds, high > med > low.
type Policy struct {
	High float64
	Med  float64
	Low  float64
}

// DefaultPolicy returns the 0.7/0.4/0.2 threshold triple.
func DefaultPolicy() Policy {
	return Policy{High: 0.7, Med: 0.4, Low: 0.2}
}

// Decide returns the retention action for a utility score. Monotonic: a
// higher utility never yields a more destructive action.
func (p Policy) Decide(utility float64) Action {
	switch {
	case utility >= p.High:
		return KeepAll
	case utility >= p.Med:
		return Downgrade
	case utility >= p.Low:
		return TextOnly
	default:
		return MergeOrDelete
	}
}
