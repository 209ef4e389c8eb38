package convai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"

	// APIKeyEnv is read by [NewClient] when no key is passed explicitly.
	APIKeyEnv = "ELEVENLABS_API_KEY"

	conversationPath = "/v1/convai/conversation"
	signedURLPath    = "/v1/convai/conversation/get-signed-url"
	apiKeyHeader     = "xi-api-key"

	maxErrorBodySize = 4 << 10

	// requestTimeout bounds a single API request, the conversation itself
	// runs over the websocket
	requestTimeout = 15 * time.Second
)

var ErrMissingAPIKey = errors.New("api key is required for private agents")

// Client holds the credentials and transports used to talk to the agents
// platform. Creating a client does not touch the network.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

type ClientOption func(*Client)

// WithAPIKey sets the key used to authenticate against private agents.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

// WithBaseURL points the client to a different API host.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// NewClient creates a client. Without [WithAPIKey] the key falls back to the
// ELEVENLABS_API_KEY environment variable, if set.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  os.Getenv(APIKeyEnv),
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
		},
		dialer: websocket.DefaultDialer,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// ConversationURL returns the websocket URL for a public agent.
func (c *Client) ConversationURL(agentID string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	switch base.Scheme {
	case "https", "wss":
		base.Scheme = "wss"
	case "http", "ws":
		base.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", base.Scheme)
	}

	query := url.Values{}
	query.Set("agent_id", agentID)
	base.Path = conversationPath
	base.RawQuery = query.Encode()

	return base.String(), nil
}

// GetSignedURL requests a short lived websocket URL for a private agent.
func (c *Client) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	ctx, span := tracer.Start(ctx, "get signed url")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	if c.apiKey == "" {
		span.RecordError(ErrMissingAPIKey)
		span.SetStatus(codes.Error, ErrMissingAPIKey.Error())
		return "", ErrMissingAPIKey
	}

	signedURL, err := c.getSignedURL(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return signedURL, nil
}

func (c *Client) getSignedURL(ctx context.Context, agentID string) (string, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	query := url.Values{}
	query.Set("agent_id", agentID)
	endpoint.Path = signedURLPath
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signed url request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", fmt.Errorf("failed to get signed url: %s: %s", resp.Status, body)
	}

	var parsed struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode signed url response: %w", err)
	}
	if parsed.SignedURL == "" {
		return "", fmt.Errorf("signed url response did not contain a url")
	}

	return parsed.SignedURL, nil
}

func (c *Client) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open socket connection to agent (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to open socket connection to agent: %w", err)
	}

	return conn, nil
}
