package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/services"
)

// Document is one searchable transcript record.
type Document struct {
	ID         string  `json:"id"`
	CallUID    string  `json:"call_uid"`
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	FeedID     string  `json:"feed_id"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
	IndexedAt  string  `json:"indexed_at"`
}

// Indexer adds documents to a Meilisearch index over its HTTP API.
type Indexer struct {
	enabled bool
	host    string
	apiKey  string
	index   string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewIndexer builds an indexer from the search config section. A disabled
// indexer accepts documents and drops them with a debug log.
func NewIndexer(cfg *config.Config, logger *slog.Logger) *Indexer {
	return &Indexer{
		enabled: cfg.Search.Enabled,
		host:    cfg.Search.Host,
		apiKey:  cfg.Search.APIKey,
		index:   cfg.Search.Index,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logging.NewComponentLogger(logger, "search"),
		now:     time.Now,
	}
}

// Enabled reports whether index writes are configured on.
func (i *Indexer) Enabled() bool { return i.enabled }

// Index adds one document. Failures come back wrapped as indexing errors so
// callers can apply the non-fatal policy.
func (i *Indexer) Index(ctx context.Context, doc Document) error {
	if !i.enabled {
		i.logger.Debug("search disabled, skipping index write",
			logging.String(logging.FieldCallUID, doc.CallUID))
		return nil
	}
	if doc.IndexedAt == "" {
		doc.IndexedAt = i.now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal([]Document{doc})
	if err != nil {
		return services.Wrap(services.ErrIndexing, "search", "encode document", doc.CallUID, err)
	}
	endpoint := fmt.Sprintf("%s/indexes/%s/documents", i.host, i.index)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if i.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+i.apiKey)
		}

		resp, err := i.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}
		// Meilisearch answers 202 with an enqueued task.
		if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = i.http.Timeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return services.Wrap(services.ErrIndexing, "search", "add documents", doc.CallUID, err)
	}
	return nil
}
