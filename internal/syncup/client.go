// Package syncup turns a synchronous streaming lookup against a remote
// service into outbox notifications.
package syncup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrStatus = errors.New("syncup: unexpected response status")

const maxLineBytes = 1 << 20

// Request is the body of the streaming lookup call.
type Request struct {
	LookupKey string `json:"lookupKey"`
	Limit     int    `json:"limit"`
}

// Result is one streamed JSON object. It always carries lookupKey plus the
// remote service's own fields, which are kept opaque.
type Result json.RawMessage

func (r Result) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// RPCClient performs the lookup and returns every streamed result, or an error
// if the call or any part of the stream failed.
type RPCClient interface {
	Stream(ctx context.Context, req Request) ([]Result, error)
}

// HTTPClient calls the remote over HTTP; the response body is NDJSON, one
// result per line.
type HTTPClient struct {
	name    string
	baseURL string
	path    string
	client  *http.Client
}

func NewHTTPClient(name, baseURL, path string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ RPCClient = (*HTTPClient)(nil)

func (c *HTTPClient) Stream(ctx context.Context, r Request) ([]Result, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%w: remote=%s status=%d body=%q", ErrStatus, c.name, res.StatusCode, strings.TrimSpace(string(msg)))
	}

	return readNDJSON(res.Body)
}

func readNDJSON(r io.Reader) ([]Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var out []Result
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if raw[0] != '{' || !json.Valid(raw) {
			return nil, fmt.Errorf("stream line %d: not a JSON object", line)
		}
		out = append(out, Result(bytes.Clone(raw)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stream after line %d: %w", line, err)
	}
	return out, nil
}
