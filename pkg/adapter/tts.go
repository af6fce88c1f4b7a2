package adapter

import "context"

// TTSOptions control voice synthesis for one utterance.
type TTSOptions struct {
	Voice          string
	ResponseFormat string
	Feature        string
}

// TTSResult is the synthesized audio payload.
type TTSResult struct {
	AudioBuffer []byte
}

// TTS is the text-to-speech collaborator consumed by the speech queue.
type TTS interface {
	Synthesize(ctx context.Context, text string, opts *TTSOptions) (*TTSResult, error)
}
