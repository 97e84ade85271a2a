package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"nftwatch/internal/model"
)

const defaultMaxBody = 8 << 20

// jsonClient issues rate-limited GET requests against a marketplace API.
type jsonClient struct {
	source  string
	baseURL string
	header  http.Header
	client  *http.Client
	limiter *rate.Limiter
	maxBody int64
}

func newJSONClient(src, baseURL string, header http.Header, client *http.Client, ratePerSec int) *jsonClient {
	if client == nil {
		client = &http.Client{}
	}
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	return &jsonClient{
		source:  src,
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		maxBody: defaultMaxBody,
	}
}

func (c *jsonClient) get(ctx context.Context, id model.CollectionID, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return classify(c.source, id, ctx.Err())
		}
		return &FetchError{Kind: FetchRateLimited, Source: c.source, Collection: id, Err: err}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &FetchError{Kind: FetchNetwork, Source: c.source, Collection: id, Err: err}
	}
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classify(c.source, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &FetchError{
			Kind:       FetchRateLimited,
			Source:     c.source,
			Collection: id,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{Kind: FetchNetwork, Source: c.source, Collection: id, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return classify(c.source, id, err)
	}
	if int64(len(body)) > c.maxBody {
		return malformed(c.source, id, fmt.Errorf("response exceeds %d bytes", c.maxBody))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return malformed(c.source, id, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func reverse(items []model.RawTransaction) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
