package servers

// transitions is the managed-server status machine. Restore of a deleted
// record lands on missing (the container is gone until a start recreates it);
// purge is a hard row delete and not represented here.
var transitions = map[Status][]Status{
	StatusCreating: {StatusRunning, StatusFailed},
	StatusRunning:  {StatusStopped, StatusFailed, StatusDeleting, StatusMissing},
	StatusStopped:  {StatusRunning, StatusFailed, StatusDeleting, StatusMissing},
	StatusFailed:   {StatusRunning, StatusStopped, StatusDeleting, StatusMissing},
	StatusDeleting: {StatusDeleted, StatusFailed},
	StatusMissing:  {StatusRunning, StatusDeleting},
	StatusDeleted:  {StatusMissing},
}

// CanTransition reports whether the status machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Rebuildable statuses: the server has (or had) a container worth swapping.
func Rebuildable(s Status) bool {
	switch s {
	case StatusRunning, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// Structural reports whether an operation name contends on the server record
// itself; two structural operations never run concurrently on one server.
func Structural(op string) bool {
	switch op {
	case "create", "delete", "rebuild", "adopt", "migrate", "restore", "purge":
		return true
	}
	return false
}
