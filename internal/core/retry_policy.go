package core

// ErrorCategory is one of the eleven closed error kinds that drive retry
// eligibility. Adding a new category is a deliberate change, not a
// silent extension.
type ErrorCategory string

const (
	CategoryNetwork           ErrorCategory = "network"
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryRateLimit         ErrorCategory = "rate_limit"
	CategoryAuthentication    ErrorCategory = "authentication"
	CategoryAuthorization     ErrorCategory = "authorization"
	CategoryDatabase          ErrorCategory = "database"
	CategoryValidation        ErrorCategory = "validation"
	CategoryResourceExhausted ErrorCategory = "resource_exhausted"
	CategoryNotFound          ErrorCategory = "not_found"
	CategoryInternal          ErrorCategory = "internal"
	CategoryUnknown           ErrorCategory = "unknown"
)

// AllCategories is the closed set of error categories.
var AllCategories = []ErrorCategory{
	CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryAuthentication,
	CategoryAuthorization, CategoryDatabase, CategoryValidation,
	CategoryResourceExhausted, CategoryNotFound, CategoryInternal, CategoryUnknown,
}

// RetryPolicy configures retry behavior for a (component, stage) pair.
type RetryPolicy struct {
	Component         string
	StageName         Stage
	MaxRetries        int
	BaseDelaySeconds  float64
	MaxDelaySeconds   float64
	BackoffMultiplier float64
	JitterFraction    float64
	RetryOn           map[ErrorCategory]bool
}

// RetryOnCategory reports whether the policy allows retrying the given
// error category.
func (p RetryPolicy) RetryOnCategory(c ErrorCategory) bool {
	return p.RetryOn[c]
}

// DefaultRetryPolicy is the hard-coded fallback used when neither the
// in-memory cache nor the database has a row for (component, stage).
func DefaultRetryPolicy(component string, stage Stage) RetryPolicy {
	return RetryPolicy{
		Component:         component,
		StageName:         stage,
		MaxRetries:        3,
		BaseDelaySeconds:  2,
		MaxDelaySeconds:   300,
		BackoffMultiplier: 2,
		JitterFraction:    0.2,
		RetryOn: map[ErrorCategory]bool{
			CategoryNetwork:           true,
			CategoryTimeout:           true,
			CategoryRateLimit:         true,
			CategoryDatabase:          true,
			CategoryResourceExhausted: true,
			CategoryUnknown:           true,
		},
	}
}
