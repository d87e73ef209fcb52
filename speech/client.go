package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"speech-relay-backend/config"
)

// maxAudioSize bounds a single synthesis response.
const maxAudioSize = 64 << 20

// TransportError means the synthesis request never got an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-200 reply from the synthesis endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: HTTP status %d", e.Code)
}

// ClientConfig configures a synthesis Client.
type ClientConfig struct {
	Endpoint     string // may contain {region}
	OutputFormat string
	UserAgent    string
	Timeout      time.Duration
}

// Client calls the provider's synthesis endpoint.
type Client struct {
	client       *http.Client
	endpoint     string
	outputFormat string
	userAgent    string
}

// NewClient creates a Client, filling unset fields with the config defaults.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		client:       &http.Client{Timeout: cfg.Timeout},
		endpoint:     cfg.Endpoint,
		outputFormat: cfg.OutputFormat,
		userAgent:    cfg.UserAgent,
	}
	if c.endpoint == "" {
		c.endpoint = config.DefaultSynthesisEndpoint
	}
	if c.outputFormat == "" {
		c.outputFormat = config.DefaultOutputFormat
	}
	if c.userAgent == "" {
		c.userAgent = config.DefaultUserAgent
	}
	return c
}

// Synthesize posts ssml for region with the bearer token and returns the
// audio bytes. Failures are *TransportError or *StatusError.
func (c *Client) Synthesize(ctx context.Context, token, region, ssml string) ([]byte, error) {
	url := config.Endpoint(c.endpoint, region)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(ssml))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", c.outputFormat)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = int64(len(ssml))

	resp, err := c.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("region", region).Errorln("synthesis request failed")
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		logrus.WithError(err).Errorln("failed reading synthesis response")
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"response": string(body),
		}).Errorln("synthesis endpoint returned an error")
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
