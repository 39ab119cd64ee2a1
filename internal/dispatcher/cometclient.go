package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// CometForwarder implements Forwarder by calling each Comet's own forward
// endpoint over HTTP (§4.C step 4: "forwards through Router/Forwarder").
// Comet addresses are static, operator-configured entries (console.toml
// [[comets]]) rather than a dynamic discovery protocol — the spec names no
// Comet registration handshake, so this is the simplest resolution that
// satisfies "Console maintains instance_id -> comet_id" without inventing one.
type CometForwarder struct {
	addresses map[string]string // comet_id -> base URL
	secret    string
	client    *http.Client
}

func NewCometForwarder(addresses map[string]string, secret string) *CometForwarder {
	return &CometForwarder{
		addresses: addresses,
		secret:    secret,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type forwardRequest struct {
	InstanceID string          `json:"instanceId"`
	Kind       wire.Kind       `json:"kind"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
}

func (f *CometForwarder) Forward(ctx context.Context, cometID, instanceID string, kind wire.Kind, id string, payload any) error {
	addr, ok := f.addresses[cometID]
	if !ok {
		return fmt.Errorf("comet forwarder: unknown comet_id %q", cometID)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("comet forwarder: marshal payload: %w", err)
	}
	body, err := json.Marshal(forwardRequest{InstanceID: instanceID, Kind: kind, ID: id, Payload: rawPayload})
	if err != nil {
		return fmt.Errorf("comet forwarder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/internal/forward", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("comet forwarder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.secret)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForwardUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrForwardNotConnected
	case http.StatusConflict:
		return ErrForwardLinkClosed
	default:
		return fmt.Errorf("comet forwarder: unexpected status %d", resp.StatusCode)
	}
}
