package tokencache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"speech-relay-backend/config"
)

// ErrTokenIssue wraps every failure to obtain a token from the provider.
var ErrTokenIssue = errors.New("token issuance failed")

// maxTokenSize bounds how much of a token response is read.
const maxTokenSize = 64 << 10

// Issuer obtains a fresh bearer token for a subscription key and region.
type Issuer interface {
	Issue(ctx context.Context, subscriptionKey, region string) (string, error)
}

// HTTPIssuer calls the provider's issueToken endpoint.
type HTTPIssuer struct {
	client   *http.Client
	endpoint string // may contain {region}
}

// NewHTTPIssuer creates an issuer for the endpoint template with the given
// request timeout.
func NewHTTPIssuer(endpoint string, timeout time.Duration) *HTTPIssuer {
	return &HTTPIssuer{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

// Issue POSTs an empty body with the subscription key header. The response
// body of a 200 reply is the token.
func (i *HTTPIssuer) Issue(ctx context.Context, subscriptionKey, region string) (string, error) {
	url := config.Endpoint(i.endpoint, region)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrTokenIssue, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", subscriptionKey)
	req.ContentLength = 0

	resp, err := i.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("region", region).Errorln("token request failed")
		return "", fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTokenIssue, err)
	}

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"response": string(body),
			"region":   region,
		}).Errorln("token endpoint returned an error")
		return "", fmt.Errorf("%w: HTTP status %d", ErrTokenIssue, resp.StatusCode)
	}

	return string(body), nil
}
