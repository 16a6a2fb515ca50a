package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/retry"

	"go.opentelemetry.io/otel/trace"
)

// RSSProvider turns a feed into posts. Item ids are the publication time in
// unix seconds so they order like status ids.
type RSSProvider struct {
	client   *http.Client
	tracer   trace.Tracer
	feedURL  string
	maxItems int
	retry    retry.Policy
}

func NewRSSProvider(tracer trace.Tracer, feedURL string, maxItems int) *RSSProvider {
	if maxItems <= 0 {
		maxItems = defaultMaxPerPoll
	}
	return &RSSProvider{
		client:   &http.Client{Timeout: 20 * time.Second},
		tracer:   tracer,
		feedURL:  strings.TrimSpace(feedURL),
		maxItems: maxItems,
		retry:    retry.Remote(),
	}
}

func (p *RSSProvider) Fetch(ctx context.Context, sinceID string) ([]domain.Post, error) {
	ctx, span := p.tracer.Start(ctx, "rss.fetch-feed")
	defer span.End()

	if p.feedURL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	posts, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) ([]domain.Post, error) {
		return p.fetchOnce(ctx, sinceID)
	})
	if err != nil {
		span.RecordError(err)
	}
	return posts, err
}

func (p *RSSProvider) fetchOnce(ctx context.Context, sinceID string) ([]domain.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if isRateLimited(resp.StatusCode, string(body)) {
		return nil, fmt.Errorf("%w: feed status %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss fetch error %d: %s", resp.StatusCode, sanitizeText(string(body), 200))
	}

	var rss struct {
		Channel struct {
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				PubDate     string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode rss payload: %w", err))
	}

	posts := make([]domain.Post, 0, len(rss.Channel.Items))
	for _, row := range rss.Channel.Items {
		title := sanitizeText(htmlStrip(row.Title), 300)
		publishedAt := parseRSSDate(row.PubDate)
		if title == "" || publishedAt.IsZero() {
			continue
		}
		id := strconv.FormatInt(publishedAt.Unix(), 10)
		if sinceID != "" && domain.CompareIDs(id, sinceID) <= 0 {
			continue
		}
		content := title
		if desc := htmlStrip(row.Description); desc != "" {
			content += ". " + desc
		}
		posts = append(posts, domain.Post{
			ID:        id,
			Content:   content,
			URL:       sanitizeText(row.Link, 500),
			CreatedAt: publishedAt.Format(time.RFC3339),
		})
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return domain.CompareIDs(posts[i].ID, posts[j].ID) > 0
	})
	if len(posts) > p.maxItems {
		posts = posts[:p.maxItems]
	}
	return posts, nil
}

func parseRSSDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
