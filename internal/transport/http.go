package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openendpoint/replicator/internal/object"
)

// Transport is the remote RPC contract from spec.md §6: a one-way cast
// to a remote node's object handler. The call itself does not wait for
// the remote write; the outcome arrives later, out of band, through a
// Registry.
type Transport interface {
	Cast(ctx context.Context, addr string, req CastRequest) error
}

// CastRequest is the wire shape posted to a remote node's replicate
// handler.
type CastRequest struct {
	ReqID       int64             `json:"req_id"`
	PartitionID int64             `json:"partition_id"`
	Key         []byte            `json:"key"`
	Data        []byte            `json:"data"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Method      string            `json:"method"`
	CallbackURL string            `json:"callback_url"`
}

// HTTPTransport casts replication writes over HTTP, POSTing to
// {addr}/internal/replicate and returning as soon as the remote node
// has accepted the request — the write itself, and its eventual
// outcome, happen after this call returns.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTP transport with the given per-cast
// timeout. This timeout bounds only the handshake of handing the write
// off to the remote node, not the write itself.
func NewHTTPTransport(castTimeout time.Duration) *HTTPTransport {
	if castTimeout <= 0 {
		castTimeout = 2 * time.Second
	}
	return &HTTPTransport{client: &http.Client{Timeout: castTimeout}}
}

func (t *HTTPTransport) Cast(ctx context.Context, addr string, req CastRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal cast request: %w", err)
	}

	url := fmt.Sprintf("http://%s/internal/replicate", addr)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build cast request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cast to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cast to %s: unexpected status %d", addr, resp.StatusCode)
	}
	return nil
}
