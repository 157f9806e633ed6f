package classifier

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

type statusCodedError struct {
	code int
	msg  string
}

func (e *statusCodedError) Error() string   { return e.msg }
func (e *statusCodedError) StatusCode() int { return e.code }

func TestClassify_NilErrorIsUnknown(t *testing.T) {
	result := Classify(nil, "")
	assert.Equal(t, core.CategoryUnknown, result.Category)
}

func TestClassify_NetworkError(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "example.invalid"}
	result := Classify(err, "")
	assert.Equal(t, core.CategoryNetwork, result.Category)
	assert.True(t, result.IsTransient)
}

func TestClassify_Timeout(t *testing.T) {
	result := Classify(context.DeadlineExceeded, "")
	assert.Equal(t, core.CategoryTimeout, result.Category)
	assert.True(t, result.IsTransient)
}

func TestClassify_RateLimitByStatusCode(t *testing.T) {
	err := &statusCodedError{code: 429, msg: "too many requests"}
	result := Classify(err, "")
	assert.Equal(t, core.CategoryRateLimit, result.Category)
	assert.True(t, result.IsTransient)
}

func TestClassify_AuthenticationByMessage(t *testing.T) {
	result := Classify(errors.New("authentication failed"), "")
	assert.Equal(t, core.CategoryAuthentication, result.Category)
	assert.False(t, result.IsTransient)
}

func TestClassify_AuthorizationByMessage(t *testing.T) {
	result := Classify(errors.New("permission denied"), "")
	assert.Equal(t, core.CategoryAuthorization, result.Category)
	assert.False(t, result.IsTransient)
}

func TestClassify_ValidationByMessage(t *testing.T) {
	result := Classify(errors.New("validation failed: field required"), "")
	assert.Equal(t, core.CategoryValidation, result.Category)
	assert.False(t, result.IsTransient)
}

func TestClassify_DuplicateContentHashIsValidation(t *testing.T) {
	result := Classify(errors.New("upload: duplicate content hash: matches document doc-1"), "")
	assert.Equal(t, core.CategoryValidation, result.Category)
	assert.False(t, result.IsTransient)
}

func TestClassify_NotFoundBySentinel(t *testing.T) {
	wrapped := errors.Join(ErrNotFound, errors.New("document 123"))
	result := Classify(wrapped, "")
	assert.Equal(t, core.CategoryNotFound, result.Category)
	assert.False(t, result.IsTransient)
}

func TestClassify_ResourceExhaustedByMessage(t *testing.T) {
	result := Classify(errors.New("disk full"), "")
	assert.Equal(t, core.CategoryResourceExhausted, result.Category)
	assert.True(t, result.IsTransient)
}

func TestClassify_UnknownFallbackIsTransient(t *testing.T) {
	result := Classify(errors.New("something strange happened"), "")
	assert.Equal(t, core.CategoryUnknown, result.Category)
	assert.True(t, result.IsTransient)
}

func TestClassify_NeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Classify(errors.New("x"), "")
		Classify(nil, "")
	})
}

func TestClassify_IsDeterministic(t *testing.T) {
	err := errors.New("validation: bad input")
	a := Classify(err, "")
	b := Classify(err, "")
	assert.Equal(t, a, b)
}
