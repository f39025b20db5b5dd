package treasury

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrBalanceUnavailable wraps any failure to read the treasury balance.
var ErrBalanceUnavailable = errors.New("treasury balance unavailable")

// HTTPBalance reads GET {BaseURL}/balance/{Address} returning {"amount": n}.
// The amount may be a JSON number or a numeric string.
type HTTPBalance struct {
	BaseURL    string
	Address    string
	HTTPClient *http.Client
}

func NewHTTPBalance(baseURL, address string, timeout time.Duration) *HTTPBalance {
	return &HTTPBalance{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Address:    address,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBalance) Balance(ctx context.Context) (float64, error) {
	if b.BaseURL == "" || b.Address == "" {
		return 0, fmt.Errorf("%w: balance source not configured", ErrBalanceUnavailable)
	}
	u := b.BaseURL + "/balance/" + url.PathEscape(b.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrBalanceUnavailable, resp.StatusCode)
	}
	var body struct {
		Amount json.RawMessage `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrBalanceUnavailable, err)
	}
	raw := strings.Trim(string(body.Amount), `"`)
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: bad amount %q", ErrBalanceUnavailable, raw)
	}
	return amount, nil
}

// StaticBalance is a fixed balance, used when no balance URL is configured
// and in tests.
type StaticBalance float64

func (s StaticBalance) Balance(context.Context) (float64, error) { return float64(s), nil }
