package replica

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"appbridge/internal/document"
)

// DocIDHandler serves the shared document's identifier as plain text. The
// control process mounts it at /doc_id on the bootstrap port; the render
// process polls it until it parses.
func DocIDHandler(id document.ID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, id.String())
	})
}

// PollDocID polls the bootstrap endpoint at the configured interval until
// it returns a parseable identifier or ctx ends. There is deliberately no
// retry cap: the control process may come up arbitrarily late, and the
// interval is the configurable knob.
func PollDocID(ctx context.Context, url string, interval time.Duration, log *zap.Logger) (document.ID, error) {
	log = log.Named("bootstrap").With(zap.String("url", url))
	log.Info("waiting for document id")

	client := &http.Client{Timeout: interval}
	for {
		id, err := fetchDocID(ctx, client, url)
		if err == nil {
			log.Info("document id received", zap.String("doc_id", id.String()))
			return id, nil
		}
		log.Debug("document id not available yet", zap.Error(err))
		if sleepCtx(ctx, interval) != nil {
			return "", fmt.Errorf("polling for document id: %w", ctx.Err())
		}
	}
}

func fetchDocID(ctx context.Context, client *http.Client, url string) (document.ID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bootstrap endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return document.ParseID(strings.TrimSpace(string(body)))
}
