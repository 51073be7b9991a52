package session

import "context"

// Recognizer opens continuous recognition channels. Each channel reports
// back through the Sink it was opened with.
type Recognizer interface {
	Open(ctx context.Context, sink Sink) (Channel, error)
}

// Channel is one open recognition stream. Audio goes in through Write.
type Channel interface {
	Write(p []byte) (int, error)
	Close() error
}

// Sink receives events from a single channel.
type Sink interface {
	Result(r Result)
	Error(err error)
	// Ended reports that the engine closed the channel.
	Ended()
}
