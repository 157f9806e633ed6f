// Package classifier maps a raised error to an ErrorClassification.
// Classification is pure and total: it never raises, and equal inputs
// always produce equal outputs.
package classifier

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors that carry a server-supplied
// retry-after hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// dbRetryableCodes holds internal/database/postgres's retryable codes
// (connection failure, serialization failure, deadlock, admin/crash
// shutdown, cannot connect now, too many connections) plus the other
// 08xxx connection-exception codes.
var dbRetryableCodes = map[string]bool{
	"08000": true, "08003": true, "08006": true, "08001": true, "08004": true,
	"40001": true, "40P01": true, "53300": true, "57P01": true, "57P02": true, "57P03": true,
}

// dbConnectionCodes mirrors internal/database/postgres's connection-error
// code table.
var dbConnectionCodes = map[string]bool{
	"08000": true, "08003": true, "08006": true, "08001": true, "08004": true, "08007": true, "53300": true,
}

// Classify maps a raised error (and an optional free-text operation hint)
// to an ErrorClassification. It never panics: any inspection failure
// falls back to {unknown, transient=true}, the conservative default.
func Classify(err error, operationHint string) (result core.ErrorClassification) {
	defer func() {
		if recover() != nil {
			result = core.ErrorClassification{ErrorType: "unknown", Category: core.CategoryUnknown, IsTransient: true}
		}
	}()

	if err == nil {
		return core.ErrorClassification{ErrorType: "none", Category: core.CategoryUnknown, IsTransient: true}
	}

	errType := errorTypeName(err)
	msg := strings.ToLower(err.Error() + " " + operationHint)

	// 1. Network errors.
	if isNetworkError(err) {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryNetwork, IsTransient: true}
	}

	// 2. Timeouts / deadline exceeded.
	if isTimeoutError(err, msg) {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryTimeout, IsTransient: true}
	}

	// 3. Rate limiting.
	if cat, transient, ok := classifyRateLimit(err, msg); ok {
		c := core.ErrorClassification{ErrorType: errType, Category: cat, IsTransient: transient}
		c.RetryAfter = extractRetryAfter(err)
		return c
	}

	// 4. Authentication / authorization.
	if statusIs(err, http.StatusUnauthorized) || strings.Contains(msg, "authentication") || strings.Contains(msg, "unauthorized") {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryAuthentication, IsTransient: false}
	}
	if statusIs(err, http.StatusForbidden) || strings.Contains(msg, "permission denied") || strings.Contains(msg, "forbidden") {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryAuthorization, IsTransient: false}
	}

	// 5. Database connectivity, lock timeout, deadlock, serialization failure.
	if isDatabaseError(err) {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryDatabase, IsTransient: true}
	}

	// 6. Validation / constraint violations.
	if strings.Contains(msg, "validation") || strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "invalid") || strings.Contains(msg, "duplicate") {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryValidation, IsTransient: false}
	}

	// 7. Resource exhaustion.
	if isResourceExhausted(err, msg) {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryResourceExhausted, IsTransient: true}
	}

	// 8. Not found.
	if statusIs(err, http.StatusNotFound) || strings.Contains(msg, "not found") || errors.Is(err, errNotFoundSentinel) {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryNotFound, IsTransient: false}
	}

	// 9. Other identifiable internal errors.
	if strings.Contains(msg, "internal error") || strings.Contains(msg, "panic") {
		return core.ErrorClassification{ErrorType: errType, Category: core.CategoryInternal, IsTransient: false}
	}

	// 10. Conservative default: one retry will be harmless and observable.
	return core.ErrorClassification{ErrorType: errType, Category: core.CategoryUnknown, IsTransient: true}
}

// errNotFoundSentinel lets callers use errors.Is(err, classifier.ErrNotFound)
// style wrapping without depending on any particular storage driver.
var errNotFoundSentinel = errors.New("not found")

// ErrNotFound is a sentinel error processors may wrap to signal a missing
// resource without depending on an HTTP status code.
var ErrNotFound = errNotFoundSentinel

func errorTypeName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "postgres:" + pgErr.Code
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "net.Error"
	}
	return "error"
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTimeoutError(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

func classifyRateLimit(err error, msg string) (core.ErrorCategory, bool, bool) {
	if statusIs(err, http.StatusTooManyRequests) || strings.Contains(msg, "rate limit") || strings.Contains(msg, "throttle") {
		return core.CategoryRateLimit, true, true
	}
	return "", false, false
}

func isDatabaseError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return dbRetryableCodes[pgErr.Code] || dbConnectionCodes[pgErr.Code]
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "serialization failure") ||
		strings.Contains(msg, "connection pool") || strings.Contains(msg, "database")
}

func isResourceExhausted(err error, msg string) bool {
	if statusIs(err, http.StatusInsufficientStorage) || statusIs(err, http.StatusServiceUnavailable) {
		return true
	}
	return strings.Contains(msg, "out of memory") || strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "quota exceeded") || strings.Contains(msg, "resource exhausted")
}

func statusIs(err error, code int) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() == code
	}
	return false
}

func extractRetryAfter(err error) *float64 {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		seconds := ra.RetryAfter().Seconds()
		return &seconds
	}
	return nil
}
