package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/retry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	truthSocialBaseURL = "https://truthsocial.com"
	defaultTruthUA     = "post-sentinel/1.0"
	defaultMaxPerPoll  = 25
)

// TruthSocialProvider reads an account timeline through the
// Mastodon-compatible statuses API.
type TruthSocialProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	handle    string
	limit     int
	limiter   *rate.Limiter
	retry     retry.Policy
	tracer    trace.Tracer

	mu        sync.Mutex
	accountID string
}

type TruthSocialConfig struct {
	BaseURL    string
	Handle     string
	AccountID  string // skips the lookup call when set
	MaxPerPoll int
}

func NewTruthSocialProvider(tracer trace.Tracer, cfg TruthSocialConfig) *TruthSocialProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = truthSocialBaseURL
	}
	if cfg.MaxPerPoll <= 0 {
		cfg.MaxPerPoll = defaultMaxPerPoll
	}
	policy := retry.Remote()
	policy.Retryable = func(err error) bool { return !isRateLimitErr(err) }
	return &TruthSocialProvider{
		client:    &http.Client{Timeout: 20 * time.Second},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: defaultTruthUA,
		handle:    strings.TrimPrefix(strings.TrimSpace(cfg.Handle), "@"),
		limit:     cfg.MaxPerPoll,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 2),
		retry:     policy,
		tracer:    tracer,
		accountID: strings.TrimSpace(cfg.AccountID),
	}
}

func (p *TruthSocialProvider) Handle() string { return p.handle }

// PostURL is the public link for a status id.
func (p *TruthSocialProvider) PostURL(id string) string {
	return fmt.Sprintf("%s/@%s/%s", p.baseURL, p.handle, id)
}

// Fetch returns posts newer than sinceID, newest first. An empty sinceID
// returns the latest page.
func (p *TruthSocialProvider) Fetch(ctx context.Context, sinceID string) ([]domain.Post, error) {
	ctx, span := p.tracer.Start(ctx, "truthsocial.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("handle", p.handle), attribute.String("since_id", sinceID))

	posts, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) ([]domain.Post, error) {
		return p.fetchOnce(ctx, sinceID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("posts", len(posts)))
	return posts, nil
}

func (p *TruthSocialProvider) fetchOnce(ctx context.Context, sinceID string) ([]domain.Post, error) {
	accountID, err := p.resolveAccount(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("exclude_replies", "true")
	q.Set("with_muted", "true")
	q.Set("limit", strconv.Itoa(p.limit))
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	u := fmt.Sprintf("%s/api/v1/accounts/%s/statuses?%s", p.baseURL, url.PathEscape(accountID), q.Encode())

	body, err := p.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var statuses []struct {
		ID          string `json:"id"`
		CreatedAt   string `json:"created_at"`
		Content     string `json:"content"`
		Text        string `json:"text"`
		SpoilerText string `json:"spoiler_text"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, fmt.Errorf("decode truthsocial statuses: %w", err)
	}

	posts := make([]domain.Post, 0, len(statuses))
	for _, s := range statuses {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		// The API is sorted newest first; anything at or below the watermark ends the page.
		if sinceID != "" && domain.CompareIDs(id, sinceID) <= 0 {
			break
		}
		raw := s.Content
		if raw == "" {
			raw = s.Text
		}
		if raw == "" {
			raw = s.SpoilerText
		}
		link := strings.TrimSpace(s.URL)
		if link == "" {
			link = p.PostURL(id)
		}
		posts = append(posts, domain.Post{
			ID:        id,
			Content:   htmlStrip(raw),
			URL:       link,
			CreatedAt: s.CreatedAt,
		})
		if len(posts) >= p.limit {
			break
		}
	}
	return posts, nil
}

func (p *TruthSocialProvider) resolveAccount(ctx context.Context) (string, error) {
	p.mu.Lock()
	id := p.accountID
	p.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if p.handle == "" {
		return "", retry.Permanent(fmt.Errorf("truthsocial handle is required"))
	}

	u := fmt.Sprintf("%s/api/v1/accounts/lookup?acct=%s", p.baseURL, url.QueryEscape(p.handle))
	body, err := p.get(ctx, u)
	if err != nil {
		return "", err
	}
	var account struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return "", fmt.Errorf("decode truthsocial account: %w", err)
	}
	if account.ID == "" {
		return "", fmt.Errorf("truthsocial account %q not found", p.handle)
	}

	p.mu.Lock()
	p.accountID = account.ID
	p.mu.Unlock()
	return account.ID, nil
}

func (p *TruthSocialProvider) get(ctx context.Context, u string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if isRateLimited(resp.StatusCode, string(body)) {
		return nil, fmt.Errorf("%w: truthsocial status %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("truthsocial API error %d: %s", resp.StatusCode, sanitizeText(string(body), 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(apiErr)
		}
		return nil, apiErr
	}
	return body, nil
}
