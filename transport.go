package laju

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const maxResponseBytes = 10 * 1024 * 1024

// HTTPFetch builds a FetchFunc issuing a GET against the endpoint's base URL
// plus path, carrying the endpoint's configured headers. The payload is the
// raw response body; non-2xx statuses surface as *StatusError so the
// classifier sees them.
func HTTPFetch(client *http.Client, path string, query url.Values) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, ep *Endpoint) (any, error) {
		target := ep.BaseURL() + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range ep.Config().Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
		}
		return body, nil
	}
}

// JSONFetch wraps HTTPFetch and decodes the body into a fresh value produced
// by newValue, e.g. func() any { return &TickerResponse{} }.
func JSONFetch(client *http.Client, path string, query url.Values, newValue func() any) FetchFunc {
	fetch := HTTPFetch(client, path, query)
	return func(ctx context.Context, ep *Endpoint) (any, error) {
		raw, err := fetch(ctx, ep)
		if err != nil {
			return nil, err
		}
		out := newValue()
		if err := json.Unmarshal(raw.([]byte), out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
