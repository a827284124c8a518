package session

// Kind names a session notification.
type Kind string

const (
	KindStarted      Kind = "started"
	KindStopped      Kind = "stopped"
	KindError        Kind = "error"
	KindVolumeUpdate Kind = "volume-update"
	KindAudioChunk   Kind = "audio-chunk"
	KindAudioConfig  Kind = "audio-config"
)

// Event is one session notification. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// Started follows a successful worker spawn.
type Started struct {
	PID       int
	SessionID string
}

// Stopped follows a worker exit. ExitCode is -1 when the worker was killed by a signal.
type Stopped struct {
	ExitCode int
}

// Error carries a spawn failure or a worker-reported error.
type Error struct {
	Err error
}

// VolumeUpdate is the peak level of one audio frame.
type VolumeUpdate struct {
	Volume float64
}

// AudioChunk is one raw s16le audio frame payload. The payload is owned by the receiver.
type AudioChunk struct {
	Payload []byte
}

// AudioConfig announces the worker's capture format.
type AudioConfig struct {
	SampleRate int
	Channels   int
}

func (Started) Kind() Kind      { return KindStarted }
func (Stopped) Kind() Kind      { return KindStopped }
func (Error) Kind() Kind        { return KindError }
func (VolumeUpdate) Kind() Kind { return KindVolumeUpdate }
func (AudioChunk) Kind() Kind   { return KindAudioChunk }
func (AudioConfig) Kind() Kind  { return KindAudioConfig }

func (Started) isEvent()      {}
func (Stopped) isEvent()      {}
func (Error) isEvent()        {}
func (VolumeUpdate) isEvent() {}
func (AudioChunk) isEvent()   {}
func (AudioConfig) isEvent()  {}

// WorkerError is an error message reported by the worker itself.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	if e.Message == "" {
		return "recorder reported an error"
	}
	return "recorder: " + e.Message
}
