package chat

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() > 0 || s == StatusFailed
}

// Advance returns the status after applying next. sent < delivered < read;
// read never reverts and failed is terminal.
func (s Status) Advance(next Status) Status {
	if s == StatusFailed || !next.Valid() {
		return s
	}
	if next == StatusFailed {
		if s == StatusRead {
			return s
		}
		return next
	}
	if next.rank() > s.rank() {
		return next
	}
	return s
}
