package session

import "github.com/rbright/murmur/internal/wire"

// Observer receives low-level session measurements.
type Observer interface {
	Spawned()
	SpawnFailed()
	Exited(code int)
	BytesReceived(n int)
	FrameDispatched(t wire.MessageType)
	DecodeFailed()
	VolumeObserved(v float64)
}

// noopObserver preserves session flow when no observer is wired.
type noopObserver struct{}

func (noopObserver) Spawned()                         {}
func (noopObserver) SpawnFailed()                     {}
func (noopObserver) Exited(int)                       {}
func (noopObserver) BytesReceived(int)                {}
func (noopObserver) FrameDispatched(wire.MessageType) {}
func (noopObserver) DecodeFailed()                    {}
func (noopObserver) VolumeObserved(float64)           {}
