package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"callpipe/internal/config"
	"callpipe/internal/services"
)

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint
// with response_format=verbose_json so segment logprobs come back.
type WhisperClient struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	http     *http.Client
}

// NewWhisperClient builds a speech-to-text client from the transcription
// config section.
func NewWhisperClient(cfg *config.Config) *WhisperClient {
	return &WhisperClient{
		baseURL:  cfg.Transcription.BaseURL,
		apiKey:   cfg.Transcription.APIKey,
		model:    cfg.Transcription.Model,
		language: cfg.Transcription.Language,
		http:     &http.Client{Timeout: time.Duration(cfg.Transcription.RequestTimeout) * time.Second},
	}
}

type verboseTranscription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Transcribe posts audio and returns the parsed result. Server-side errors
// are retried with backoff inside the request timeout budget; client-side
// rejections are not.
func (c *WhisperClient) Transcribe(ctx context.Context, filename string, audio []byte) (*Result, error) {
	var parsed verboseTranscription
	operation := func() error {
		body, contentType, err := c.buildForm(filename, audio)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(payload))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(payload)))
		}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("bad JSON: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = c.http.Timeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "speech-to-text request", filename, err)
	}

	language := parsed.Language
	if language == "" {
		language = c.language
	}
	return &Result{
		Text:            parsed.Text,
		Language:        language,
		DurationSeconds: parsed.Duration,
		Segments:        parsed.Segments,
		Confidence:      confidenceFromSegments(parsed.Segments),
	}, nil
}

func (c *WhisperClient) buildForm(filename string, audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := form.WriteField("model", c.model); err != nil {
		return nil, "", err
	}
	if c.language != "" {
		if err := form.WriteField("language", c.language); err != nil {
			return nil, "", err
		}
	}
	if err := form.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", err
	}
	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return &buf, form.FormDataContentType(), nil
}
