package util

type Action int

const (
	Change Action = iota
	Delete
)

// String makes Action implement the fmt.Stringer interface for pretty printing.
func (a Action) String() string {
	switch a {
	case Change:
		return "CHANGE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}
