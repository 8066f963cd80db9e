package fdms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CaioWing/Fiscus/internal/domain"
)

const maxResponseBody = 1 << 20

// DeviceRef addresses one device on the gateway.
type DeviceRef struct {
	FiscalDeviceID string
	SerialNumber   string
	Model          string
}

type RegisterRequest struct {
	SerialNumber   string `json:"serialNumber"`
	Model          string `json:"model"`
	CertificatePEM string `json:"certificate"`
}

type OpenDayRequest struct {
	FiscalDayNo     int64     `json:"fiscalDayNo"`
	FiscalDayOpened time.Time `json:"fiscalDayOpened"`
}

type CloseDayRequest struct {
	FiscalDayNo    int64 `json:"fiscalDayNo"`
	ReceiptCounter int64 `json:"receiptCounter"`
}

type PingResult struct {
	ReportingFrequency int    `json:"reportingFrequency"`
	OperationID        string `json:"operationID"`
}

// Client is a JSON client for the FDMS gateway. Deadlines come from the
// caller's context.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse fdms base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("fdms base url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: u, apiKey: apiKey, http: httpClient}, nil
}

func (c *Client) Register(ctx context.Context, ref DeviceRef, req RegisterRequest) (*domain.StatusSnapshot, error) {
	var snap domain.StatusSnapshot
	if err := c.do(ctx, "register", http.MethodPost, ref, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Status(ctx context.Context, ref DeviceRef) (*domain.StatusSnapshot, error) {
	var snap domain.StatusSnapshot
	if err := c.do(ctx, "status", http.MethodGet, ref, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Ping(ctx context.Context, ref DeviceRef) (*PingResult, error) {
	var res PingResult
	if err := c.do(ctx, "ping", http.MethodGet, ref, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Config(ctx context.Context, ref DeviceRef) (map[string]any, error) {
	cfg := map[string]any{}
	if err := c.do(ctx, "config", http.MethodGet, ref, nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Client) OpenDay(ctx context.Context, ref DeviceRef, req OpenDayRequest) (*domain.StatusSnapshot, error) {
	var snap domain.StatusSnapshot
	if err := c.do(ctx, "open-day", http.MethodPost, ref, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) CloseDay(ctx context.Context, ref DeviceRef, req CloseDayRequest) (*domain.StatusSnapshot, error) {
	var snap domain.StatusSnapshot
	if err := c.do(ctx, "close-day", http.MethodPost, ref, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) endpoint(ref DeviceRef, op string) string {
	u := *c.baseURL
	u.Path = fmt.Sprintf("%s/devices/%s/%s", u.Path, url.PathEscape(ref.FiscalDeviceID), op)
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method string, ref DeviceRef, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(ref, op), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if ref.SerialNumber != "" {
		req.Header.Set("X-Device-Serial", ref.SerialNumber)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return transportError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw := strings.TrimSpace(string(data))
		if raw == "" {
			raw = fmt.Sprintf("FDMS error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Raw:        raw,
			Normalized: Classify(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		raw := fmt.Sprintf("malformed %s response: %v", op, err)
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Raw:        raw,
			Normalized: NormalizedError{Message: raw},
			Err:        err,
		}
	}
	return nil
}

func transportError(ctx context.Context, op string, err error) *Error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	raw := err.Error()
	return &Error{
		Op:         op,
		Raw:        raw,
		Normalized: Classify(raw),
		Timeout:    timeout,
		Err:        err,
	}
}
