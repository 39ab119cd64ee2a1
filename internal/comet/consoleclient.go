package comet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// ConsoleClient implements IdentityResolver by calling back to Console's
// resolve-identity endpoint over HTTP, authenticated with the shared
// comet_secret (§4.B "Comet asks Console to resolve_identity on every new
// link"; §6 "comet_secret authenticates the Console<->Comet channel").
type ConsoleClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewConsoleClient(baseURL, secret string) *ConsoleClient {
	return &ConsoleClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type upstreamRequest struct {
	CometID    string      `json:"cometId"`
	InstanceID string      `json:"instanceId"`
	Frame      *wire.Frame `json:"frame"`
}

// PushUpstream relays one Agent-originated frame (heartbeat/output/completed)
// to Console's /internal/upstream, wired via Server.OnUpstream in cmd/comet
// (an HTTP round trip, since Console and Comet are separate processes here).
func (c *ConsoleClient) PushUpstream(ctx context.Context, cometID, instanceID string, f *wire.Frame) error {
	body, err := json.Marshal(upstreamRequest{CometID: cometID, InstanceID: instanceID, Frame: f})
	if err != nil {
		return fmt.Errorf("console client: marshal upstream frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/upstream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("console client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("console client: push upstream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("console client: push upstream rejected, status %d", resp.StatusCode)
	}
	return nil
}

// AssignTokenRequest mirrors Console's issue-assign-token body — an Agent
// presents this once, with its claimed assign credentials, before it has
// any token to dial Comet with at all (§6 "assign_username, assign_password").
type AssignTokenRequest struct {
	InstanceID string `json:"instanceId"`
	IP         string `json:"ip"`
	MacAddr    string `json:"macAddr"`
	Namespace  string `json:"namespace"`
	SysUser    string `json:"sysUser"`
	SSHPort    int    `json:"sshPort"`
}

// IssueAssignToken proxies an Agent's assign-credential bootstrap call
// through to Console, authenticating with whatever assign_username/password
// the Agent itself presented — Comet never holds the real admin credentials,
// it just relays them the one time an Agent has no token yet.
func (c *ConsoleClient) IssueAssignToken(ctx context.Context, username, password string, req AssignTokenRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("console client: marshal assign token request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/issue-assign-token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("console client: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(username, password)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("console client: issue assign token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("console client: issue assign token rejected, status %d", resp.StatusCode)
	}

	var out struct {
		AssignToken string `json:"assignToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("console client: decode assign token response: %w", err)
	}
	return out.AssignToken, nil
}

func (c *ConsoleClient) ResolveIdentity(ctx context.Context, hello wire.HelloPayload) error {
	body, err := json.Marshal(hello)
	if err != nil {
		return fmt.Errorf("console client: marshal hello: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/resolve-identity", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("console client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("console client: resolve identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("console client: %s", errBody.Error)
		}
		return fmt.Errorf("console client: resolve identity rejected, status %d", resp.StatusCode)
	}
	return nil
}
