package auction

// Status is the auction state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQuoting   Status = "quoting"
	StatusSelecting Status = "selecting"
	StatusAccepted  Status = "accepted"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// awarded reports whether a winner holds exclusivity in s.
func (s Status) awarded() bool {
	return s == StatusSelecting || s == StatusAccepted || s == StatusExecuting
}
