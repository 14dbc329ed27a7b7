package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/herald-labs/herald/internal/herr"
)

func formatEventURL(guildID, eventID uint64) string {
	return fmt.Sprintf("https://discord.com/events/%d/%d", guildID, eventID)
}

// WebhookPayload is the outbound webhook body. AllowedMentions is always
// pinned to parse:[] so syndicated content can never ping anyone.
type WebhookPayload struct {
	Content         string          `json:"content,omitempty"`
	Username        string          `json:"username,omitempty"`
	AvatarURL       string          `json:"avatar_url,omitempty"`
	Embeds          []Embed         `json:"embeds,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// WebhookClient posts through the shared HTTP pool.
type WebhookClient struct {
	client *http.Client
}

func NewWebhookClient(client *http.Client) *WebhookClient {
	return &WebhookClient{client: client}
}

// Post sends payload to hookURL and returns the created message id.
func (w *WebhookClient) Post(ctx context.Context, hookURL string, payload WebhookPayload, files ...Attachment) (uint64, error) {
	u, err := url.Parse(hookURL)
	if err != nil {
		return 0, herr.New(herr.PermanentSource, err)
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()

	body, err := w.do(ctx, http.MethodPost, u.String(), payload, files)
	if err != nil {
		return 0, err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return 0, fmt.Errorf("decode webhook response: %w", err)
	}
	id, err := strconv.ParseUint(created.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("webhook message id %q: %w", created.ID, err)
	}
	return id, nil
}

// Edit patches a message previously posted through the same webhook.
func (w *WebhookClient) Edit(ctx context.Context, hookURL string, messageID uint64, payload WebhookPayload) error {
	target := fmt.Sprintf("%s/messages/%d", hookURL, messageID)
	_, err := w.do(ctx, http.MethodPatch, target, payload, nil)
	return err
}

func (w *WebhookClient) do(ctx context.Context, method, target string, payload WebhookPayload, files []Attachment) ([]byte, error) {
	payload.AllowedMentions = allowedMentions{Parse: []string{}}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	var (
		body        io.Reader
		contentType string
	)
	if len(files) == 0 {
		body = bytes.NewReader(raw)
		contentType = "application/json"
	} else {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("payload_json", string(raw)); err != nil {
			return nil, err
		}
		for i, f := range files {
			part, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), f.Name)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		body = &buf
		contentType = mw.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, herr.New(herr.Transient, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return nil, herr.Newf(herr.FromStatus(resp.StatusCode), "webhook %s: status %d", method, resp.StatusCode)
	}
	return respBody, nil
}
