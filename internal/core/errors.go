package core

import (
	"context"
	"errors"
	"fmt"
)

// ConfigurationError reports a setting the process cannot start without.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// IntegrityError is returned when an encrypted field fails authentication,
// either because it was tampered with or because the key is wrong.
type IntegrityError struct {
	Field string
	Err   error
}

func (e *IntegrityError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("integrity check failed: %v", e.Err)
	}
	return fmt.Sprintf("integrity check failed for field %q: %v", e.Field, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

type TransportError struct {
	Bank string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error during %s: %v", e.Bank, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a response that did not carry the expected fields.
// Raw keeps the payload for the log.
type ParseError struct {
	Bank  string
	Field string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s response parse error (%s): %v", e.Bank, e.Field, e.Err)
	}
	return fmt.Sprintf("%s response parse error: missing %s", e.Bank, e.Field)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UpstreamError carries the bank's own business error code and message.
type UpstreamError struct {
	Bank        string
	Code        string
	Description string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned error %s: %s", e.Bank, e.Code, e.Description)
}

type UnknownBankError struct {
	Code string
}

func (e *UnknownBankError) Error() string {
	return fmt.Sprintf("no adapter registered for bank %q", e.Code)
}

type InvalidScheduleError struct {
	Expression string
	Err        error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Expression, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// SyncError wraps whatever stopped a single account's synchronization.
type SyncError struct {
	AccountID int64
	Bank      string
	Err       error
}

func (e *SyncError) Error() string {
	if e.Bank == "" {
		return fmt.Sprintf("sync account %d: %v", e.AccountID, e.Err)
	}
	return fmt.Sprintf("sync account %d (%s): %v", e.AccountID, e.Bank, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt. Only network
// failures qualify; bank business errors and malformed responses do not.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ErrorKind returns a short classification used in logs and per-account results.
func ErrorKind(err error) string {
	var (
		cfgErr      *ConfigurationError
		integrity   *IntegrityError
		transport   *TransportError
		parse       *ParseError
		upstream    *UpstreamError
		unknownBank *UnknownBankError
		schedule    *InvalidScheduleError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &integrity):
		return "integrity_error"
	case errors.As(err, &transport):
		return "transport_error"
	case errors.As(err, &parse):
		return "parse_error"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.As(err, &unknownBank):
		return "unknown_bank_error"
	case errors.As(err, &schedule):
		return "invalid_schedule_error"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrJobNotFound):
		return "not_found_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout_error"
	default:
		return "internal_error"
	}
}
