// Package web fetches company news from SerpAPI and turns it into the
// SearchResults document the risk pipeline reads.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/metrics"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/records"
	"github.com/newsrisk/backend/pkg/logger"
	"github.com/newsrisk/backend/pkg/retry"
)

const DefaultBaseURL = "https://serpapi.com/search"

// serpapi returns at most this many news results per page
const pageSize = 100

var errServer = errors.New("search provider unavailable")

type Client struct {
	serpAPIKey string
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	now        func() time.Time
}

// NewsItem is one news search hit. Date is nil when the provider's date
// could not be read.
type NewsItem struct {
	Title   string
	URL     string
	Source  string
	Snippet string
	Date    *models.Date
}

func NewClient(serpAPIKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.RetryableErrors = []error{errServer}
	retryCfg.Logger = logger.GetLogger()

	return &Client{
		serpAPIKey: serpAPIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retryCfg,
		now:        time.Now,
	}
}

func (c *Client) HasCredential() bool {
	return strings.TrimSpace(c.serpAPIKey) != ""
}

// FetchNews pages through news results for company until maxResults items
// were collected or the provider runs out.
func (c *Client) FetchNews(ctx context.Context, company string, maxResults int) ([]NewsItem, error) {
	if !c.HasCredential() {
		return nil, fmt.Errorf("%w: no SerpAPI key configured", models.ErrConfiguration)
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	logger.Info("Fetching company news", zap.String("company", company), zap.Int("max_results", maxResults))

	items := make([]NewsItem, 0, maxResults)
	for start := 0; len(items) < maxResults; start += pageSize {
		num := pageSize
		if left := maxResults - len(items); left < num {
			num = left
		}

		page, err := retry.DoWithResult(ctx, c.retry, func() ([]NewsItem, error) {
			return c.fetchPage(ctx, company, start, num)
		})
		if err != nil {
			metrics.NewsFetched.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: news search for %q: %v", models.ErrExternalService, company, err)
		}

		items = append(items, page...)
		if len(page) < num {
			break
		}
	}

	if len(items) > maxResults {
		items = items[:maxResults]
	}
	metrics.NewsFetched.WithLabelValues("success").Add(float64(len(items)))

	logger.Info("Company news fetched", zap.String("company", company), zap.Int("results", len(items)))

	return items, nil
}

type newsResponse struct {
	Error       string `json:"error"`
	NewsResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Source  string `json:"source"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"news_results"`
}

func (c *Client) fetchPage(ctx context.Context, company string, start, num int) ([]NewsItem, error) {
	params := url.Values{}
	params.Add("engine", "google")
	params.Add("tbm", "nws")
	params.Add("q", company)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", strconv.Itoa(num))
	params.Add("start", strconv.Itoa(start))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", errServer, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp newsResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if searchResp.Error != "" && len(searchResp.NewsResults) == 0 {
		// serpapi reports an exhausted result set as an error message
		if strings.Contains(strings.ToLower(searchResp.Error), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("search error: %s", searchResp.Error)
	}

	items := make([]NewsItem, 0, len(searchResp.NewsResults))
	for _, r := range searchResp.NewsResults {
		title := CleanText(r.Title)
		if title == "" {
			continue
		}

		item := NewsItem{
			Title:   title,
			URL:     r.Link,
			Source:  r.Source,
			Snippet: CleanText(r.Snippet),
		}

		if d, err := ParseNewsDate(r.Date, c.now()); err == nil {
			item.Date = &d
		} else if r.Date != "" {
			logger.Debug("Unreadable news date", zap.String("date", r.Date), zap.Error(err))
		}

		items = append(items, item)
	}

	return items, nil
}

// CleanText strips markup and collapses whitespace.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

var (
	relativeDate = regexp.MustCompile(`^(\d+|an?)\s+(second|minute|hour|day|week|month|year)s?\s+ago$`)

	absoluteLayouts = []string{
		"01/02/2006, 03:04 PM, -0700 MST",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"2006-01-02",
		time.RFC3339,
	}
)

// ParseNewsDate reads the provider's date strings, both absolute
// ("Mar 4, 2021") and relative to now ("3 days ago").
func ParseNewsDate(s string, now time.Time) (models.Date, error) {
	raw := strings.TrimSpace(s)
	s = strings.ToLower(raw)
	if s == "" {
		return models.Date{}, fmt.Errorf("%w: empty date", models.ErrDateParse)
	}

	if m := relativeDate.FindStringSubmatch(s); m != nil {
		n := 1
		if m[1] != "a" && m[1] != "an" {
			n, _ = strconv.Atoi(m[1])
		}
		var t time.Time
		switch m[2] {
		case "second":
			t = now.Add(-time.Duration(n) * time.Second)
		case "minute":
			t = now.Add(-time.Duration(n) * time.Minute)
		case "hour":
			t = now.Add(-time.Duration(n) * time.Hour)
		case "day":
			t = now.AddDate(0, 0, -n)
		case "week":
			t = now.AddDate(0, 0, -7*n)
		case "month":
			t = now.AddDate(0, -n, 0)
		case "year":
			t = now.AddDate(-n, 0, 0)
		}
		return models.DateFromTime(t.UTC()), nil
	}

	for _, candidate := range []string{raw, titleCase(s)} {
		for _, layout := range absoluteLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return models.DateFromTime(t), nil
			}
		}
	}
	return models.Date{}, fmt.Errorf("%w: unrecognized date %q", models.ErrDateParse, raw)
}

// titleCase restores month and meridiem capitalization lost by lowering.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		switch {
		case w == "am," || w == "pm," || w == "am" || w == "pm" || w == "utc":
			words[i] = strings.ToUpper(w)
		case len(w) > 0 && w[0] >= 'a' && w[0] <= 'z':
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

type searchResult struct {
	Title   string                 `json:"Title"`
	Snippet string                 `json:"Snippet"`
	Link    string                 `json:"Link,omitempty"`
	Source  string                 `json:"Source,omitempty"`
	Date    map[string]interface{} `json:"Date,omitempty"`
}

// Document renders items as the pipeline's input document.
func Document(items []NewsItem) ([]byte, error) {
	results := make([]searchResult, len(items))
	for i, item := range items {
		results[i] = searchResult{
			Title:   item.Title,
			Snippet: item.Snippet,
			Link:    item.URL,
			Source:  item.Source,
		}
		if item.Date != nil {
			results[i].Date = map[string]interface{}{
				"Year":  item.Date.Year,
				"Month": item.Date.Month,
				"Day":   item.Date.Day,
			}
		}
	}

	data, err := json.Marshal(map[string]interface{}{records.ContainerKey: results})
	if err != nil {
		return nil, fmt.Errorf("failed to encode news document: %w", err)
	}
	return data, nil
}
