package log

import "time"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
	FieldOperation  = "operation"
	FieldAccountID  = "account_id"
	FieldBankCode   = "bank_code"
	FieldJobName    = "job_name"
	FieldRunID      = "run_id"
	FieldLogID      = "log_id"
	FieldAttempt    = "attempt"
	FieldNewTx      = "new_transactions"
	FieldFetched    = "fetched"
	FieldMessageID  = "message_id"
)

// Components
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentBank      = "bank"
	ComponentSync      = "sync"
	ComponentBatch     = "batch"
	ComponentScheduler = "scheduler"
	ComponentVault     = "vault"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
	ComponentCLI       = "cli"
)

// Operations
const (
	OpLogin     = "login"
	OpFetch     = "fetch_transactions"
	OpBalance   = "list_accounts"
	OpDecrypt   = "decrypt"
	OpPersist   = "persist"
	OpSync      = "sync"
	OpDispatch  = "dispatch"
	OpConsume   = "consume"
	OpPublish   = "publish"
	OpExecute   = "execute"
	OpSweep     = "sweep"
	OpRetention = "retention"
	OpValidate  = "validate"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error message; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithAccount adds the account id and bank code of a sync target.
func (f LogFields) WithAccount(accountID int64, bankCode string) LogFields {
	f[FieldAccountID] = accountID
	f[FieldBankCode] = bankCode
	return f
}

func (f LogFields) WithJob(name, runID string) LogFields {
	f[FieldJobName] = name
	if runID != "" {
		f[FieldRunID] = runID
	}
	return f
}

func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

func (f LogFields) WithHTTPRequest(method, path string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
