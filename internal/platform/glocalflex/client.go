// Package glocalflex is the transport layer for the GLocalFlex marketplace:
// the HTTPS order endpoint and the websocket push channels.
package glocalflex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const (
	DefaultHost      = "test.glocalflexmarket.com"
	DefaultClientID  = "glocalflexmarket_public_api"
	DefaultAuthPath  = "/auth/oauth/v2/token"
	DefaultOrderPath = "/api/v1/order/"

	WSTradePath     = "/api/v1/ws/trade/"
	WSTickerPath    = "/api/v1/ws/ticker/"
	WSOrderbookPath = "/api/v1/ws/orderbook/"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

// NewHTTPClient builds the client shared by auth and order calls of one
// session. Every request is bounded by timeout.
func NewHTTPClient(timeout time.Duration, tlsVerify bool) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !tlsVerify {
		transport.TLSClientConfig = insecureTLS()
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// BaseURL returns "https://host" unless host already carries a scheme.
func BaseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

// EndpointURL joins host and path.
func EndpointURL(host, path string) string {
	return BaseURL(host) + path
}

// WSURL returns the websocket URL for path. Bare hosts use wss on port 443.
func WSURL(host, path string) string {
	host = strings.TrimRight(host, "/")
	switch {
	case strings.HasPrefix(host, "https://"):
		return "wss://" + strings.TrimPrefix(host, "https://") + path
	case strings.HasPrefix(host, "http://"):
		return "ws://" + strings.TrimPrefix(host, "http://") + path
	case strings.HasPrefix(host, "ws://"), strings.HasPrefix(host, "wss://"):
		return host + path
	default:
		return "wss://" + host + ":443" + path
	}
}

// OrderClient posts orders with a bearer token.
type OrderClient struct {
	orderURL   string
	httpClient *http.Client
}

// NewOrderClient creates an OrderClient for the full order endpoint URL.
func NewOrderClient(orderURL string, httpClient *http.Client) *OrderClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &OrderClient{orderURL: orderURL, httpClient: httpClient}
}

// SubmitOrder posts one order. Any HTTP response, whatever its status, is
// returned without error; only failures to complete the exchange are errors
// and they wrap domain.ErrTransport.
func (c *OrderClient) SubmitOrder(ctx context.Context, token string, req domain.OrderRequest) (Response, error) {
	body, err := json.Marshal(ToPayload(req))
	if err != nil {
		return Response{}, fmt.Errorf("glocalflex: marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.orderURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("glocalflex: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("glocalflex: submit order: %w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("glocalflex: read response: %w: %w", domain.ErrTransport, err)
	}

	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// checkHTTPStatus maps non-2xx statuses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrRejected, bodyStr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func insecureTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}
