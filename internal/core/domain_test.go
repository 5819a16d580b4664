package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTrailingDays(t *testing.T) {
	now := time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC)
	r := TrailingDays(now, 3)
	if want := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC); !r.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", r.Start, want)
	}
	if !r.End.Equal(now) {
		t.Fatalf("end = %v, want %v", r.End, now)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid range, got %v", err)
	}
	if err := (DateRange{Start: now, End: now.Add(-time.Hour)}).Validate(); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestAccountBalanceMatches(t *testing.T) {
	acc := BankAccount{AccountNumber: "12345", IBAN: "TR33 0006 1005 1978 6457 8413 26"}
	if !(AccountBalance{IBAN: "tr330006100519786457841326"}).Matches(acc) {
		t.Fatal("expected IBAN match ignoring spaces and case")
	}
	if !(AccountBalance{AccountNumber: "12345"}).Matches(acc) {
		t.Fatal("expected account number match")
	}
	if (AccountBalance{AccountNumber: "999"}).Matches(acc) {
		t.Fatal("unexpected match")
	}
	if acc.Identifier() != "12345" {
		t.Fatalf("identifier = %q", acc.Identifier())
	}
}

func TestErrorClassification(t *testing.T) {
	transport := &TransportError{Bank: "ziraat", Op: "fetch", Err: errors.New("connection reset")}
	wrapped := &SyncError{AccountID: 7, Bank: "ziraat", Err: transport}

	if !IsRetryable(wrapped) {
		t.Fatal("wrapped transport error should be retryable")
	}
	if IsRetryable(&UpstreamError{Bank: "ziraat", Code: "12", Description: "bad"}) {
		t.Fatal("upstream error should not be retryable")
	}

	cases := map[string]error{
		"transport_error":    wrapped,
		"upstream_error":     &SyncError{Err: &UpstreamError{}},
		"parse_error":        &ParseError{Bank: "halkbank", Field: "Amount"},
		"integrity_error":    &IntegrityError{Field: "password", Err: errors.New("auth")},
		"unknown_bank_error": &UnknownBankError{Code: "nope"},
		"not_found_error":    fmt.Errorf("load: %w", ErrAccountNotFound),
		"internal_error":     errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
