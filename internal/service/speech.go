package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Speech is synthesized audio ready to be attached to a message
type Speech struct {
	Data        []byte
	ContentType string
	Filename    string
}

// SpeechClient implements SpeechSynthesizer against the VisionBrain TTS endpoint
type SpeechClient struct {
	client *http.Client
	url    string
	apiKey string
	logger *slog.Logger
}

// NewSpeechClient creates a new SpeechClient
func NewSpeechClient(url, apiKey string, timeout time.Duration, logger *slog.Logger) *SpeechClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeechClient{
		client: &http.Client{Timeout: timeout},
		url:    url,
		apiKey: apiKey,
		logger: logger,
	}
}

// Synthesize implements SpeechSynthesizer
func (s *SpeechClient) Synthesize(ctx context.Context, text string) (*Speech, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, &ProviderError{Provider: ProviderSpeech, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderSpeech, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Speech request failed", "error", err)
		return nil, wrapTransportError(ProviderSpeech, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderSpeech, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderSpeech, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(data)))}
	}
	if len(data) == 0 {
		return nil, &ProviderError{Provider: ProviderSpeech, StatusCode: resp.StatusCode, Err: errors.New("empty audio response")}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	s.logger.Info("Speech synthesized",
		"text_length", len(text),
		"audio_bytes", len(data),
		"content_type", contentType)

	return &Speech{
		Data:        data,
		ContentType: contentType,
		Filename:    "speech" + audioExtension(contentType),
	}, nil
}

func audioExtension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".mp3"
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}
