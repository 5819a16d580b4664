package banks

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"banksync/internal/core"
)

// maxResponseBytes bounds how much of a statement response is read.
const maxResponseBytes = 16 << 20

// Request describes one round trip to a bank endpoint.
type Request struct {
	Bank        string
	Op          string
	URL         string
	ContentType string
	Body        []byte
	Headers     map[string]string
}

// StatusError is the cause inside a *core.TransportError for a non-2xx
// response. Body lets adapters look for a bank error document (a SOAP Fault
// rides on HTTP 500) before treating the status as a transport failure.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Status) }

// Post performs a single POST. Network failures and non-2xx statuses are
// reported as *core.TransportError; the caller decides about retries.
func Post(ctx context.Context, client Doer, r Request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, &core.TransportError{Bank: r.Bank, Op: r.Op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", r.ContentType)
	req.Header.Set("Accept", "text/xml, application/xml")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &core.TransportError{Bank: r.Bank, Op: r.Op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &core.TransportError{Bank: r.Bank, Op: r.Op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.TransportError{Bank: r.Bank, Op: r.Op, Err: &StatusError{Status: resp.StatusCode, Body: body}}
	}
	return body, nil
}

// Escape returns s with XML special characters escaped, for hand-built envelopes.
func Escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// DeriveRefID builds a deterministic reference for banks that do not supply
// one, so re-ingesting the same statement window stays idempotent. Two
// distinct same-day movements with equal amount and description collide.
func DeriveRefID(bank string, date time.Time, amount decimal.Decimal, description string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		strings.ToLower(bank),
		date.Format("2006-01-02"),
		amount.StringFixed(2),
		strings.Join(strings.Fields(description), " "))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ParseTime tries each layout in turn.
func ParseTime(value string, loc *time.Location, layouts ...string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// OptionalString returns nil for blank values.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// OptionalDecimal parses a blank-tolerant amount field.
func OptionalDecimal(s string, style core.NumberStyle) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := core.ParseDecimal(s, style)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// TurkeyTime is the zone Turkish banks report timestamps in (UTC+3, no DST).
var TurkeyTime = time.FixedZone("TRT", 3*60*60)
