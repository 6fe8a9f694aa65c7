// Package provider queries the external payment provider over HTTP.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"booking-core/internal/models"
	"booking-core/internal/service"
	"booking-core/internal/util"

	"go.uber.org/zap"
)

// HTTPClient implements service.ProviderClient.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  util.ComponentLogger("provider"),
	}
}

type statusResponse struct {
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref"`
	Reason      string `json:"reason"`
}

// PaymentStatus asks the provider for a booking's payment status. Transport
// failures and 5xx responses are reported as service.ErrProviderUnreachable.
func (c *HTTPClient) PaymentStatus(ctx context.Context, bookingID, providerRef string) (service.ProviderStatus, error) {
	ctx, span := util.StartSpan(ctx, "provider.PaymentStatus")
	defer span.End()

	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(bookingID))
	if providerRef != "" {
		endpoint += "?ref=" + url.QueryEscape(providerRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return service.ProviderStatus{}, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		util.FailSpan(span, err)
		return service.ProviderStatus{}, fmt.Errorf("%w: %v", service.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// the provider has not seen the payment yet
		return service.ProviderStatus{Status: models.ProviderStatusPending, ProviderRef: providerRef}, nil
	case resp.StatusCode >= 500:
		return service.ProviderStatus{}, fmt.Errorf("%w: status %d", service.ErrProviderUnreachable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return service.ProviderStatus{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return service.ProviderStatus{}, fmt.Errorf("%w: decode response: %v", service.ErrProviderUnreachable, err)
	}

	status := models.ProviderStatus(strings.ToLower(body.Status))
	switch status {
	case models.ProviderStatusSucceeded, models.ProviderStatusFailed, models.ProviderStatusPending:
	default:
		c.logger.Warn("Unknown provider status, treating as pending",
			zap.String("booking_id", bookingID),
			zap.String("status", body.Status))
		status = models.ProviderStatusPending
	}

	ref := body.ProviderRef
	if ref == "" {
		ref = providerRef
	}
	return service.ProviderStatus{Status: status, ProviderRef: ref, Reason: body.Reason}, nil
}
