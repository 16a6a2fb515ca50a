package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"post-sentinel/internal/retry"
)

const pushoverURL = "https://api.pushover.net/1/messages.json"

// PushoverTransport posts notifications to the Pushover messages API.
type PushoverTransport struct {
	client   *http.Client
	endpoint string
	token    string
	user     string
}

func NewPushoverTransport(token, user string) *PushoverTransport {
	return &PushoverTransport{
		client:   &http.Client{Timeout: 20 * time.Second},
		endpoint: pushoverURL,
		token:    token,
		user:     user,
	}
}

func (p *PushoverTransport) Name() string { return "pushover" }

// Configured reports whether both credentials are present.
func (p *PushoverTransport) Configured() bool {
	return p.token != "" && p.user != ""
}

func (p *PushoverTransport) Send(ctx context.Context, n Notification) error {
	if !p.Configured() {
		return retry.Permanent(fmt.Errorf("pushover credentials not configured"))
	}

	form := url.Values{}
	form.Set("token", p.token)
	form.Set("user", p.user)
	form.Set("title", n.Title)
	form.Set("message", n.Message)
	form.Set("priority", strconv.Itoa(int(n.Priority)))
	if n.URL != "" {
		form.Set("url", n.URL)
		if n.URLTitle != "" {
			form.Set("url_title", n.URLTitle)
		}
	}
	if n.RetryInterval > 0 {
		form.Set("retry", strconv.Itoa(n.RetryInterval))
	}
	if n.Expire > 0 {
		form.Set("expire", strconv.Itoa(n.Expire))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	apiErr := fmt.Errorf("pushover API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apiErr
	}
	return retry.Permanent(apiErr)
}
