// Package client talks to a running fart serve instance: re-run and like
// requests, the artifact download, and the server-sent event stream.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Event kinds delivered over /events.
const (
	EventStart  = "start"
	EventOutput = "output"
	EventFinish = "finish"
)

// A StreamEvent is one decoded server-sent event. Chunk is only populated
// for output events.
type StreamEvent struct {
	Kind  string
	Chunk string
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

func New(rawURL string, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(rawURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", rawURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", rawURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// Host names the server for user-facing disconnect notices.
func (c *Client) Host() string {
	return c.baseURL.Host
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// Rerun asks the server to re-run the sketch with the given parameter
// values. No response body is consumed; callers treat the request as
// fire-and-forget and failures surface only through the event stream.
func (c *Client) Rerun(ctx context.Context, values map[string]string) error {
	if values == nil {
		values = map[string]string{}
	}
	blob, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal rerun payload: %w", err)
	}
	return c.post(ctx, "/rerun", blob)
}

// Like records a preference for the current artifact. No payload, no
// response consumed.
func (c *Client) Like(ctx context.Context) error {
	return c.post(ctx, "/like", nil)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	c.logger.Debug("request sent", zap.String("path", path), zap.Int("bytes", len(payload)))
	return nil
}

// FetchArtifact downloads the latest rendered artifact. Every call appends
// a fresh uniqueness suffix to the URL so no cache along the way can serve
// a stale render. Returns the bytes and the URL actually requested.
func (c *Client) FetchArtifact(ctx context.Context) ([]byte, string, error) {
	artifactURL := c.endpoint("/images/latest.svg") + "?" + cacheBustSuffix()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, artifactURL, fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, artifactURL, fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, artifactURL, fmt.Errorf("artifact fetch returned status %d", resp.StatusCode)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, artifactURL, fmt.Errorf("read artifact body: %w", err)
	}
	return blob, artifactURL, nil
}

func cacheBustSuffix() string {
	return fmt.Sprintf("%d.%06d", time.Now().UnixMilli(), rand.Intn(1_000_000))
}

// Stream consumes the server's event stream into sink until the connection
// ends or ctx is cancelled. The sink is closed before returning. The
// returned error is terminal for the session: no reconnect is attempted
// here or anywhere above.
func (c *Client) Stream(ctx context.Context, sink chan<- StreamEvent) error {
	defer close(sink)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/events"), nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open across generations, so the default client
	// timeout must not apply.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		blob, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("event stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(blob)))
	}

	const (
		initialScanBuffer = 64 * 1024
		maxScanBuffer     = 8 * 1024 * 1024
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, initialScanBuffer), maxScanBuffer)

	currentEvent := ""
	dataLines := make([]string, 0, 4)
	flush := func() error {
		if currentEvent == "" && len(dataLines) == 0 {
			return nil
		}
		raw := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		event, ok, err := decodeEvent(currentEvent, raw)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sink <- event:
			return nil
		}
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return err
			}
			currentEvent = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("stream event exceeded max size (%d bytes)", maxScanBuffer)
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	c.logger.Debug("event stream closed by server")
	return nil
}

func decodeEvent(kind, raw string) (StreamEvent, bool, error) {
	switch kind {
	case EventStart, EventFinish:
		return StreamEvent{Kind: kind}, true, nil
	case EventOutput:
		// Output payloads are JSON-string-encoded text fragments.
		var chunk string
		if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
			return StreamEvent{}, false, fmt.Errorf("decode output event: %w", err)
		}
		return StreamEvent{Kind: EventOutput, Chunk: chunk}, true, nil
	default:
		return StreamEvent{}, false, nil
	}
}
