package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// HTTPClient talks to a milkrun API server. It never retries; callers decide
// whether to re-invoke a failed call.
type HTTPClient struct {
	baseURL    string
	customerID string
	http       *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

// NewHTTPClient creates a client for the server at baseURL acting for customerID.
func NewHTTPClient(baseURL, customerID string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		customerID: customerID,
		http:       &http.Client{Timeout: constants.DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) GetMySubscription(ctx context.Context) (*models.Subscription, error) {
	var resp SubscriptionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscription, nil
}

func (c *HTTPClient) GetDeliveryCalendar(ctx context.Context, subscriptionID string, year int, month int) (CalendarPayload, error) {
	query := url.Values{}
	query.Set("year", strconv.Itoa(year))
	query.Set("month", strconv.Itoa(month))

	var payload CalendarPayload
	if err := c.do(ctx, http.MethodGet, subscriptionPath(subscriptionID, "calendar"), query, nil, &payload); err != nil {
		return CalendarPayload{}, err
	}
	return payload, nil
}

func (c *HTTPClient) ChangeDeliverySlot(ctx context.Context, subscriptionID, date string, newSlot models.Slot) (models.Result, error) {
	var result models.Result
	err := c.do(ctx, http.MethodPost, deliveryPath(subscriptionID, date, "slot"), nil, SlotRequest{Slot: newSlot}, &result)
	return result, err
}

func (c *HTTPClient) RescheduleDelivery(ctx context.Context, subscriptionID, fromDate, toDate string, newSlot models.Slot) (models.Result, error) {
	body := RescheduleRequest{ToDate: utils.DateKey(toDate), Slot: newSlot}
	var result models.Result
	err := c.do(ctx, http.MethodPost, deliveryPath(subscriptionID, fromDate, "reschedule"), nil, body, &result)
	return result, err
}

func (c *HTTPClient) RescheduleMultipleDeliveries(ctx context.Context, subscriptionID string, fromDates []string, newStartDate string, newSlot models.Slot) (models.Result, error) {
	keys := make([]string, len(fromDates))
	for i, d := range fromDates {
		keys[i] = utils.DateKey(d)
	}
	body := BulkRescheduleRequest{FromDates: keys, NewStartDate: utils.DateKey(newStartDate), Slot: newSlot}
	var result models.Result
	err := c.do(ctx, http.MethodPost, subscriptionPath(subscriptionID, "deliveries", "reschedule"), nil, body, &result)
	return result, err
}

func (c *HTTPClient) ConfirmDelivery(ctx context.Context, subscriptionID, date string) (models.Result, error) {
	var result models.Result
	err := c.do(ctx, http.MethodPost, deliveryPath(subscriptionID, date, "confirm"), nil, nil, &result)
	return result, err
}

func (c *HTTPClient) GetAvailableRescheduleDates(ctx context.Context, subscriptionID, anchorDate string, slot models.Slot, consecutiveDays int) (models.Availability, error) {
	query := url.Values{}
	query.Set("anchor", utils.DateKey(anchorDate))
	if slot != "" {
		query.Set("slot", string(slot))
	}
	if consecutiveDays > 0 {
		query.Set("consecutiveDays", strconv.Itoa(consecutiveDays))
	}

	var availability models.Availability
	err := c.do(ctx, http.MethodGet, subscriptionPath(subscriptionID, "available-dates"), query, nil, &availability)
	return availability, err
}

func subscriptionPath(subscriptionID string, parts ...string) string {
	segments := append([]string{"v1", "subscriptions", url.PathEscape(subscriptionID)}, parts...)
	return "/" + strings.Join(segments, "/")
}

func deliveryPath(subscriptionID, date, action string) string {
	return subscriptionPath(subscriptionID, "deliveries", url.PathEscape(utils.DateKey(date)), action)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	customer := c.customerID
	if id, ok := CustomerFrom(ctx); ok {
		customer = id
	}
	if customer != "" {
		req.Header.Set(constants.CustomerHeader, customer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeServerError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeServerError(status int, data []byte) error {
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || (body.Error == "" && body.Message == "") {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &ServerError{Status: status, Message: msg}
	}
	return &ServerError{Status: status, Code: body.Error, Message: body.Message}
}
