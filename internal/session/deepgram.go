package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// noSpeechCode is the Deepgram error code sent when the socket idles out
// without receiving audio it can transcribe.
const noSpeechCode = "NET-0001"

type DeepgramOptions struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// DeepgramRecognizer opens live Deepgram websocket streams.
type DeepgramRecognizer struct {
	apiKey   string
	cOptions *interfaces.ClientOptions
	tOptions *interfaces.LiveTranscriptionOptions
}

func NewDeepgramRecognizer(opts DeepgramOptions) *DeepgramRecognizer {
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &DeepgramRecognizer{
		apiKey:   opts.APIKey,
		cOptions: &interfaces.ClientOptions{EnableKeepAlive: true},
		tOptions: &interfaces.LiveTranscriptionOptions{
			Model:          opts.Model,
			Language:       opts.Language,
			Punctuate:      true,
			SmartFormat:    true,
			InterimResults: true,
			Encoding:       "linear16",
			SampleRate:     opts.SampleRate,
			Channels:       1,
		},
	}
}

func (r *DeepgramRecognizer) Open(ctx context.Context, sink Sink) (Channel, error) {
	dgClient, err := client.NewWSUsingCallback(ctx, r.apiKey, r.cOptions, r.tOptions, deepgramCallback{sink: sink})
	if err != nil {
		return nil, fmt.Errorf("deepgram client: %w", err)
	}
	if ok := dgClient.Connect(); !ok {
		return nil, errors.New("deepgram connect failed")
	}
	return &deepgramChannel{conn: dgClient}, nil
}

type deepgramConn interface {
	Write(p []byte) (int, error)
	Stop()
}

type deepgramChannel struct {
	conn deepgramConn
}

func (c *deepgramChannel) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *deepgramChannel) Close() error {
	c.conn.Stop()
	return nil
}

// deepgramCallback adapts Deepgram's websocket callbacks to a Sink.
type deepgramCallback struct {
	sink Sink
}

func (c deepgramCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)

	if !mr.IsFinal {
		c.sink.Result(Result{Interim: text})
		return nil
	}
	if text == "" {
		return nil
	}
	c.sink.Result(Result{Finals: []string{text}})
	return nil
}

func (c deepgramCallback) Open(*api.OpenResponse) error { return nil }

func (c deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c deepgramCallback) Close(*api.CloseResponse) error {
	c.sink.Ended()
	return nil
}

func (c deepgramCallback) Error(er *api.ErrorResponse) error {
	if er.ErrCode == noSpeechCode {
		c.sink.Error(ErrNoSpeech)
		return nil
	}
	c.sink.Error(fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description))
	return nil
}

func (c deepgramCallback) UnhandledEvent([]byte) error { return nil }
