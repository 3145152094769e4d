package procmeta

import "time"

// ProcessMetadata describes one running gateway child.
type ProcessMetadata struct {
	InvocationID string
	Route        string
	Script       string
	Argv         []string
	Started      time.Time
}

// Entry pairs a pid with its metadata.
type Entry struct {
	Pid int
	ProcessMetadata
}
