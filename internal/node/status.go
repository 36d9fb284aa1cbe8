package node

// Status represents the backend-reported state of a node instance.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusShutdown Status = "shutdown"
	StatusFail     Status = "fail"
	StatusTmpFail  Status = "tmp_fail"
	StatusUnknown  Status = "unknown"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminalFailure reports whether the status means the node can never
// become ready; synchronization treats it as fatal.
func (s Status) IsTerminalFailure() bool {
	return s == StatusShutdown || s == StatusFail
}
