package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RESTClient fetches NAV snapshots from the oracle's HTTP endpoint. It backs
// the websocket stream at startup and whenever the stream goes quiet.
type RESTClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewRESTClient(baseURL string, timeout time.Duration, log *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type navsRequest struct {
	Type string `json:"type"`
}

type navsResponse struct {
	Navs map[string]string `json:"navs"`
	Time int64             `json:"time"`
}

// Navs fetches the NAV for every basket the oracle serves.
func (c *RESTClient) Navs(ctx context.Context) (map[string]int64, error) {
	var resp navsResponse
	if err := c.post(ctx, "/info", navsRequest{Type: "navs"}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(resp.Navs))
	for basktID, raw := range resp.Navs {
		nav, err := ParsePrice(raw)
		if err != nil {
			return nil, fmt.Errorf("baskt %s: %w", basktID, err)
		}
		out[basktID] = nav
	}
	return out, nil
}

func (c *RESTClient) post(ctx context.Context, path string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
