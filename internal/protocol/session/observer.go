package session

import "time"

// Observer receives per-frame events from the session actor. Calls happen on
// the actor goroutine and must not block.
type Observer interface {
	FrameSent(channel string, bytes int)
	FrameReceived(channel string, bytes int)
	FrameDemuxed(channel string)
	FrameDropped(reason string)
	ReadMiss(channel string)
	ReadDuration(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) FrameSent(string, int) {}
func (nopObserver) FrameReceived(string, int) {}
func (nopObserver) FrameDemuxed(string) {}
func (nopObserver) FrameDropped(string) {}
func (nopObserver) ReadMiss(string) {}
func (nopObserver) ReadDuration(time.Duration) {}

type Option func(*Session)

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.obs = o
		}
	}
}
