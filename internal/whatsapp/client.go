package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"voicebridge/internal/config"
)

const defaultGraphBase = "https://graph.facebook.com"

// maxMediaBytes caps voice note downloads; the Cloud API itself limits
// audio media to 16MB.
const maxMediaBytes = 32 << 20

// Client talks to the WhatsApp Cloud (Graph) API: outbound sends and remote
// media downloads. It implements domain.Sender and domain.MediaFetcher.
type Client struct {
	cfg     config.WhatsAppConfig
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	Config  config.WhatsAppConfig
	APIBase string // override for tests; defaults to graph.facebook.com
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGraphBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	version := cfg.Config.GraphVersion
	if version == "" {
		version = "v20.0"
	}
	return &Client{
		cfg:     cfg.Config,
		apiBase: cfg.APIBase + "/" + version,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  cfg.Logger,
	}
}

// SendText sends a plain text message to a chat participant.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return c.postMessage(ctx, payload)
}

// SendAudioLink sends an audio message as a link. The platform dereferences
// the URL itself; inline binary is not accepted by the send call.
func (c *Client) SendAudioLink(ctx context.Context, to, link string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "audio",
		"audio":             map[string]string{"link": link},
	}
	return c.postMessage(ctx, payload)
}

func (c *Client) postMessage(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// DownloadMedia fetches remote media bytes by id. The Graph API is
// two-step: the id resolves to a short-lived download URL, then the binary
// is fetched from that URL. Both calls carry the bearer token.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	metaURL := fmt.Sprintf("%s/%s", c.apiBase, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("media metadata %d: %s", resp.StatusCode, string(respBody))
	}

	var meta struct {
		URL      string `json:"url"`
		MIMEType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media metadata for %s has no download url", mediaID)
	}

	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	fileReq.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	fileResp, err := c.client.Do(fileReq)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	defer fileResp.Body.Close()

	if fileResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download %d", fileResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(fileResp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}

	c.logger.Debug("media downloaded", "id", mediaID, "bytes", len(data), "mime", meta.MIMEType)
	return data, nil
}
