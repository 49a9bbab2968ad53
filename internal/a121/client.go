package a121

// Client is the sensor I/O collaborator. One SetupSession configures the
// sensor; between StartSession and StopSession, each GetNext call yields one
// extended frame. Transport concerns (links, retries, timeouts) live behind
// implementations of this interface.
type Client interface {
	// SetupSession applies the session config and returns frame metadata
	// mirroring the group structure.
	SetupSession(config SessionConfig) (ExtendedMetadata, error)

	// StartSession begins streaming. A nil recorder disables recording.
	StartSession(recorder Recorder) error

	// GetNext blocks until the next extended frame is available.
	GetNext() (ExtendedResult, error)

	// StopSession ends streaming. The session may be set up again afterwards.
	StopSession() error
}

// Recorder receives the raw stream for persistence. Implementations own the
// storage format; the pipeline only drives these three calls.
type Recorder interface {
	Start(config SessionConfig) error
	Sample(result ExtendedResult) error
	Stop() error
}
