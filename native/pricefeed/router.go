package pricefeed

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Router resolves the latest oracle value for a request stream. Result codes
// follow the request board convention: 200 solved, 400 solved with an error
// value, 404 still pending.
type Router interface {
	ValueFor(assetID string) (Response, error)
}

// ManualRouter is an in-memory router used for tests and manual overrides
// during incident response.
type ManualRouter struct {
	mu        sync.RWMutex
	responses map[string]Response
	errs      map[string]error
}

// NewManualRouter constructs an empty manual router.
func NewManualRouter() *ManualRouter {
	return &ManualRouter{
		responses: make(map[string]Response),
		errs:      make(map[string]error),
	}
}

// Set records the response returned for the asset stream.
func (m *ManualRouter) Set(assetID string, price *big.Int, timestamp uint64, result uint16) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errs, assetID)
	stored := Response{Timestamp: timestamp, Result: result}
	if price != nil {
		stored.Price = new(big.Int).Set(price)
	}
	m.responses[assetID] = stored
}

// Fail makes subsequent reads of the asset stream return the supplied error.
func (m *ManualRouter) Fail(assetID string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.errs[assetID] = err
	m.mu.Unlock()
}

// ValueFor returns the stored response for the asset stream.
func (m *ManualRouter) ValueFor(assetID string) (Response, error) {
	if m == nil {
		return Response{}, fmt.Errorf("manual router not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[assetID]; ok {
		return Response{}, err
	}
	stored, ok := m.responses[assetID]
	if !ok {
		return Response{}, fmt.Errorf("manual router: no response for %s", assetID)
	}
	if stored.Price != nil {
		stored.Price = new(big.Int).Set(stored.Price)
	}
	return stored, nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRouter fetches oracle values from an HTTP gateway exposing the request
// board. Transport and decode failures surface as errors; the feed maps them
// to pending responses.
type HTTPRouter struct {
	client   HTTPDoer
	endpoint string
}

// NewHTTPRouter constructs an HTTP router adapter. When the client is nil
// http.DefaultClient is used.
func NewHTTPRouter(client HTTPDoer, endpoint string) *HTTPRouter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRouter{client: client, endpoint: strings.TrimSpace(endpoint)}
}

func (r *HTTPRouter) ValueFor(assetID string) (Response, error) {
	if r == nil {
		return Response{}, fmt.Errorf("http router not configured")
	}
	req, err := http.NewRequest(http.MethodGet, r.endpoint, nil)
	if err != nil {
		return Response{}, err
	}
	values := url.Values{}
	values.Set("asset", assetID)
	req.URL.RawQuery = values.Encode()
	resp, err := r.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("oracle router: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp uint64 `json:"timestamp"`
		Result    uint16 `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Response{}, fmt.Errorf("oracle router: decode: %w", err)
	}
	out := Response{Timestamp: payload.Timestamp, Result: payload.Result}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed != "" {
		price, ok := new(big.Int).SetString(trimmed, 10)
		if !ok {
			return Response{}, fmt.Errorf("oracle router: invalid price %q", payload.Price)
		}
		out.Price = price
	}
	return out, nil
}
