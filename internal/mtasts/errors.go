package mtasts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxcpp/mxtrust/framework/exterrors"
	"github.com/foxcpp/mxtrust/internal/tlsrpt"
)

// ErrNoPolicy is wrapped by DNSError if the domain does not publish the
// _mta-sts record.
var ErrNoPolicy = errors.New("mtasts: no policy")

// DNSError is returned when the _mta-sts TXT record can't be obtained or
// is unusable.
type DNSError struct {
	Domain     string
	RecordType string
	Err        error
}

func (e *DNSError) Error() string {
	return fmt.Sprintf("mtasts: %s lookup for %s failed: %v", e.RecordType, e.Domain, e.Err)
}

func (e *DNSError) Unwrap() error { return e.Err }

func (e *DNSError) Temporary() bool { return true }

func (e *DNSError) ResultType() tlsrpt.ResultType { return tlsrpt.ResultSTSPolicyFetchError }

func (e *DNSError) Fields() map[string]interface{} {
	reason, misc := exterrors.UnwrapDNSErr(e.Err)
	misc["domain"] = e.Domain
	misc["record_type"] = e.RecordType
	if reason != "" {
		misc["reason"] = reason
	}
	return misc
}

type HTTPError struct {
	URL string
	// StatusCode is zero for transport-level failures.
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mtasts: fetch %s: HTTP status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("mtasts: fetch %s: %v", e.URL, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

func (e *HTTPError) Temporary() bool { return true }

func (e *HTTPError) ResultType() tlsrpt.ResultType { return tlsrpt.ResultSTSPolicyFetchError }

func (e *HTTPError) Fields() map[string]interface{} {
	f := map[string]interface{}{"url": e.URL}
	if e.StatusCode != 0 {
		f["http_status"] = e.StatusCode
	}
	return f
}

// InvalidPolicyError is returned for policies that can't be used. It is
// permanent: the policy is never guessed.
type InvalidPolicyError struct {
	Reason string
	// Line is the 1-based line number, zero if the error is not specific
	// to a line.
	Line int
	// Content is the snippet of the policy body.
	Content string
}

func (e *InvalidPolicyError) Error() string {
	if e.Line != 0 {
		return fmt.Sprintf("mtasts: invalid policy: line %d: %s", e.Line, e.Reason)
	}
	return "mtasts: invalid policy: " + e.Reason
}

func (e *InvalidPolicyError) Temporary() bool { return false }

func (e *InvalidPolicyError) ResultType() tlsrpt.ResultType { return tlsrpt.ResultSTSPolicyInvalid }

func (e *InvalidPolicyError) Fields() map[string]interface{} {
	f := map[string]interface{}{"reason": e.Reason}
	if e.Line != 0 {
		f["line"] = e.Line
	}
	if e.Content != "" {
		f["content"] = e.Content
	}
	return f
}

type PolicyTooLargeError struct {
	// Actual is the declared or observed body size. When the body is read
	// without Content-Length, it is the amount read before giving up.
	Actual int64
	Max    int64
}

func (e *PolicyTooLargeError) Error() string {
	return fmt.Sprintf("mtasts: policy too large: %d bytes, max %d", e.Actual, e.Max)
}

func (e *PolicyTooLargeError) Temporary() bool { return false }

func (e *PolicyTooLargeError) ResultType() tlsrpt.ResultType { return tlsrpt.ResultSTSPolicyInvalid }

func (e *PolicyTooLargeError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"size":     e.Actual,
		"max_size": e.Max,
	}
}

type TimeoutError struct {
	// Operation is either "dns_lookup", "http_request" or "lookup".
	Operation string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mtasts: %s timed out after %v (timeout %v)", e.Operation, e.Elapsed, e.Timeout)
}

func (e *TimeoutError) Temporary() bool { return true }

func (e *TimeoutError) ResultType() tlsrpt.ResultType { return tlsrpt.ResultSTSPolicyFetchError }

func (e *TimeoutError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"operation": e.Operation,
		"timeout":   e.Timeout.String(),
		"elapsed":   e.Elapsed.String(),
	}
}

// Unwrap makes errors.Is(err, context.DeadlineExceeded) work.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// RateLimitedError is returned without performing any I/O if the domain is
// looked up too often.
type RateLimitedError struct {
	Domain     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("mtasts: too many lookups for %s, retry after %v", e.Domain, e.RetryAfter)
}

func (e *RateLimitedError) Temporary() bool { return true }

func (e *RateLimitedError) ResultType() tlsrpt.ResultType { return tlsrpt.ResultSTSPolicyFetchError }

func (e *RateLimitedError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"domain":      e.Domain,
		"retry_after": e.RetryAfter.String(),
	}
}

// SMTPError converts the lookup error into the SMTP reply used when
// delivery can't proceed. All lookup errors except for invalid policies are
// temporary.
func SMTPError(domain string, err error) error {
	code, enchCode := 451, exterrors.EnhancedCode{4, 7, 5}
	if !exterrors.IsTemporaryOrUnspec(err) {
		code, enchCode = 550, exterrors.EnhancedCode{5, 7, 5}
	}
	return &exterrors.SMTPError{
		Code:         code,
		EnhancedCode: enchCode,
		Message:      "Unable to obtain the MTA-STS policy",
		CheckName:    "mtasts",
		TargetName:   domain,
		Err:          err,
		Misc:         exterrors.Fields(err),
	}
}
