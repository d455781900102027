// Package processor is the typed client for the external payment-processor API.
// Credentials are per payment button and passed to the constructor; there is no
// process-wide client state.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUpstream marks any non-OK processor response: transport failures,
// non-200 statuses and envelope-level rejections all wrap it so callers can
// treat "upstream said no" uniformly.
var ErrUpstream = errors.New("processor request failed")

const dateLayout = "2006-01-02"

// Credentials is one button's API credential pair (account guid + secret phrase).
type Credentials struct {
	GUID   string
	Phrase string
}

// Transaction is a processor-side transaction record.
type Transaction struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	Installments  int       `json:"installments,omitempty"`
	Status        string    `json:"status"`
}

// Liquidation is a processor-side settlement batch as delivered on the wire.
// Amount and date arrive as localized strings; parsing them is the caller's
// concern, so one malformed record can be skipped without losing the batch.
type Liquidation struct {
	LiquidacionID    string `json:"liquidacionId"`
	NetoLiquidacion  string `json:"NetoLiquidacion"`
	FechaLiquidacion string `json:"FechaLiquidacion"`
	NumeroSubente    string `json:"NumeroSubente"`
}

type liquidationsEnvelope struct {
	Status bool `json:"status"`
	Code   int  `json:"code"`
	Data   struct {
		Liquidaciones []Liquidation `json:"liquidaciones"`
	} `json:"data"`
}

type liquidationTransactionsEnvelope struct {
	Status bool `json:"status"`
	Data   []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// HTTPClient talks to the processor REST API for a single button.
type HTTPClient struct {
	baseURL string
	creds   Credentials
	hc      *http.Client
}

func NewHTTPClient(baseURL string, creds Credentials, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		creds:   creds,
		hc:      &http.Client{Timeout: timeout},
	}
}

// ListTransactions fetches processor transactions in the inclusive date window.
func (c *HTTPClient) ListTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	var out []Transaction
	if err := c.get(ctx, "/api/v1/transactions", from, to, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListLiquidations fetches settlement batches in the inclusive date window.
// The envelope's status flag is part of the contract: status=false with a 200
// is still an upstream rejection.
func (c *HTTPClient) ListLiquidations(ctx context.Context, from, to time.Time) ([]Liquidation, error) {
	var env liquidationsEnvelope
	if err := c.get(ctx, "/api/v1/liquidations", from, to, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: liquidations rejected with code %d", ErrUpstream, env.Code)
	}
	return env.Data.Liquidaciones, nil
}

// LiquidationTransactionIDs returns the processor transaction ids that belong
// to a settlement batch upstream.
func (c *HTTPClient) LiquidationTransactionIDs(ctx context.Context, liquidationExternalID string) ([]string, error) {
	u := fmt.Sprintf("%s/api/v1/liquidations/%s/transactions", c.baseURL, url.PathEscape(liquidationExternalID))
	var env liquidationTransactionsEnvelope
	if err := c.do(ctx, u, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: liquidation %s lookup rejected", ErrUpstream, liquidationExternalID)
	}
	ids := make([]string, 0, len(env.Data))
	for _, d := range env.Data {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, from, to time.Time, out any) error {
	q := url.Values{}
	q.Set("from", from.Format(dateLayout))
	q.Set("to", to.Format(dateLayout))
	return c.do(ctx, c.baseURL+path+"?"+q.Encode(), out)
}

func (c *HTTPClient) do(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Guid", c.creds.GUID)
	req.Header.Set("X-Api-Frase", c.creds.Phrase)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}
