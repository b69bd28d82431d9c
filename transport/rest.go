// Package transport implements the two bit-level transports the rest of
// this module builds on: RESTClient and Channel. Grounded on
// client/common/common.go, which pairs an imroc/req/v3 HTTP client with a
// gorilla/websocket connection.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/kataras/golog"

	"github.com/kramer-control/brain-client-go/brainerr"
)

var jsonCodec = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// RESTOptions configures a RESTClient.
type RESTOptions struct {
	BaseURL string
	// Timeout bounds each individual request: a per-call deadline aborts
	// the underlying request.
	Timeout time.Duration
	// Token, if set, is sent as a bearer token on every request.
	Token string
	// AutoRetry enables the 5xx retry policy.
	AutoRetry bool
	// MaxRetries bounds retry attempts when AutoRetry is set; 0 uses the
	// default of 10.
	MaxRetries int
	// OnPending is invoked with true at request start and false at
	// completion, success or failure.
	OnPending func(bool)
}

// Response is the parsed result of a REST call. A non-2xx status other
// than 403 is still returned here (not as an error) so the caller can
// inspect it.
type Response struct {
	StatusCode int
	Body       map[string]any
	Raw        []byte
}

// RESTClient is the typed request/response transport, built on req/v3 the
// way client/common/common.go builds its HTTP client.
type RESTClient struct {
	http    *req.Client
	baseURL string
	logger  *golog.Logger
}

// NewRESTClient constructs a RESTClient per opts.
func NewRESTClient(opts RESTOptions) *RESTClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	c := req.C().SetTimeout(timeout).SetUserAgent("brain-client-go")

	if opts.Token != "" {
		c.SetCommonBearerAuthToken(opts.Token)
	}

	if opts.AutoRetry {
		max := opts.MaxRetries
		if max <= 0 {
			max = 10
		}
		c.SetCommonRetryCount(max).
			SetCommonRetryBackoffInterval(200*time.Millisecond, 2*time.Second).
			SetCommonRetryCondition(func(resp *req.Response, err error) bool {
				if err != nil || resp == nil || resp.Response == nil {
					return false
				}
				return resp.StatusCode >= 500 && resp.StatusCode <= 599
			})
	}

	if opts.OnPending != nil {
		c.OnBeforeRequest(func(_ *req.Client, _ *req.Request) error {
			opts.OnPending(true)
			return nil
		})
		c.OnAfterResponse(func(_ *req.Client, _ *req.Response) error {
			opts.OnPending(false)
			return nil
		})
	}

	return &RESTClient{
		http:    c,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  golog.Child("rest"),
	}
}

func (c *RESTClient) url(endpoint string) string {
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// Get issues a GET, encoding args into the query string:
// arrays as k[i], nested objects as k[sub] with the inner value
// JSON-stringified.
func (c *RESTClient) Get(ctx context.Context, endpoint string, args map[string]any) (*Response, error) {
	q := encodeQuery(args)
	target := c.url(endpoint)
	if len(q) > 0 {
		target += "?" + q
	}
	return c.do(ctx, func(r *req.Request) (*req.Response, error) {
		return r.Get(target)
	})
}

// Post issues a POST with a JSON body.
func (c *RESTClient) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.send(ctx, "POST", endpoint, body)
}

// Patch issues a PATCH with a JSON body.
func (c *RESTClient) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.send(ctx, "PATCH", endpoint, body)
}

// Delete issues a DELETE with an optional JSON body.
func (c *RESTClient) Delete(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.send(ctx, "DELETE", endpoint, body)
}

func (c *RESTClient) send(ctx context.Context, method, endpoint string, body any) (*Response, error) {
	target := c.url(endpoint)
	return c.do(ctx, func(r *req.Request) (*req.Response, error) {
		r.SetHeader("Content-Type", "application/json; charset=utf-8")
		if body != nil {
			r.SetBody(body)
		}
		switch method {
		case "POST":
			return r.Post(target)
		case "PATCH":
			return r.Patch(target)
		case "DELETE":
			return r.Delete(target)
		default:
			return nil, fmt.Errorf("transport: unsupported method %s", method)
		}
	})
}

// do runs one request/response round trip and applies the retry-vs-4xx
// policy: a 403 short-circuits as Unauthorized without retrying (retry only
// ever targets 5xx, wired above); any other status is returned as a parsed
// Response for the caller to inspect.
func (c *RESTClient) do(ctx context.Context, fn func(*req.Request) (*req.Response, error)) (*Response, error) {
	resp, err := fn(c.http.R().SetContext(ctx))
	if err != nil {
		return nil, brainerr.Wrap(brainerr.ConnectionFailure, "rest request failed", err)
	}

	raw := resp.Bytes()
	result := &Response{StatusCode: resp.StatusCode, Raw: raw}

	if resp.StatusCode == 403 {
		return nil, brainerr.ErrUnauthorized
	}

	if len(raw) > 0 {
		var body map[string]any
		if jsonErr := jsonCodec.Unmarshal(raw, &body); jsonErr == nil {
			result.Body = body
		} else {
			c.logger.Debugf("rest: non-JSON response body (%d bytes) from status %d", len(raw), resp.StatusCode)
		}
	}

	return result, nil
}

// encodeQuery renders args per the controller's GET query convention.
func encodeQuery(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range args {
		encodeQueryValue(values, k, v)
	}
	return values.Encode()
}

func encodeQueryValue(values url.Values, key string, v any) {
	switch val := v.(type) {
	case []any:
		for i, item := range val {
			encodeQueryValue(values, fmt.Sprintf("%s[%d]", key, i), item)
		}
	case map[string]any:
		for sub, inner := range val {
			raw, err := jsonCodec.Marshal(inner)
			if err != nil {
				continue
			}
			values.Set(fmt.Sprintf("%s[%s]", key, sub), string(raw))
		}
	default:
		values.Set(key, fmt.Sprintf("%v", val))
	}
}
