package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string        // default X-API-Key
	Company      string        // destination company name, sent with each voucher
	Timeout      time.Duration // default 30s
	RatePerMin   int           // requests per minute, 0 disables throttling
}

// HTTP posts vouchers as JSON to a ledger bridge service
// (e.g. the Tally ODBC/XML gateway).
type HTTP struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	company   string
	http      *http.Client
	limiter   *time.Ticker
}

// NewHTTP validates cfg and returns a client.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("sync base url is empty")
	}
	hdr := cfg.APIKeyHeader
	if hdr == "" {
		hdr = "X-API-Key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &HTTP{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiKeyHdr: hdr,
		company:   cfg.Company,
		http:      &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if cfg.RatePerMin > 0 {
		c.limiter = time.NewTicker(time.Minute / time.Duration(cfg.RatePerMin))
	}
	return c, nil
}

// Close stops the rate limiter.
func (c *HTTP) Close() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

type voucherRequest struct {
	Company      string `json:"company,omitempty"`
	VoucherID    string `json:"voucherId"`
	VoucherType  string `json:"voucherType"`
	Date         string `json:"date"`
	Amount       string `json:"amount"`
	LedgerName   string `json:"ledgerName"`
	Narration    string `json:"narration"`
	Reference    string `json:"reference"`
	DocumentType string `json:"documentType"`
}

type voucherResponse struct {
	ID      string `json:"id"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// Send posts v to {base}/vouchers. Transport and non-2xx errors become
// unsuccessful results; they are never returned as Go errors.
func (c *HTTP) Send(ctx context.Context, v model.LedgerVoucher) SendResult {
	if err := c.wait(ctx); err != nil {
		return Failed(err.Error())
	}

	body, err := json.Marshal(voucherRequest{
		Company:      c.company,
		VoucherID:    v.ID,
		VoucherType:  v.VoucherType,
		Date:         v.DateString(),
		Amount:       v.Amount.StringFixed(2),
		LedgerName:   v.LedgerName,
		Narration:    v.Narration,
		Reference:    v.Reference,
		DocumentType: v.DocumentType,
	})
	if err != nil {
		return Failed(fmt.Sprintf("encode voucher: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vouchers", bytes.NewReader(body))
	if err != nil {
		return Failed(err.Error())
	}
	c.headers(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", v.ID)

	resp, err := c.http.Do(req)
	if err != nil {
		return Failed(err.Error())
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failed(fmt.Sprintf("ledger api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var parsed voucherResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Failed(fmt.Sprintf("decode response: %v", err))
		}
	}
	if parsed.Success != nil && !*parsed.Success {
		return Failed(parsed.Error)
	}
	return SendResult{Success: true, ExternalID: parsed.ID}
}

// Ping checks that the ledger bridge answers on {base}/health.
func (c *HTTP) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger ping: status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTP) headers(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *HTTP) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case <-c.limiter.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
