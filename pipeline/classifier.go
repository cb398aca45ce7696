package pipeline

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/kroma-labs/restpipe/urlbuilder"
)

// DefaultRetryableStatusCodes are the status codes retried by
// DefaultClassifier.
var DefaultRetryableStatusCodes = []int{
	http.StatusRequestTimeout,     // 408
	http.StatusTooManyRequests,    // 429
	http.StatusBadGateway,         // 502
	http.StatusServiceUnavailable, // 503
	http.StatusGatewayTimeout,     // 504
}

// RetryClassifier decides whether an attempt's outcome should be retried.
//
// Example custom classifier that also retries 500:
//
//	pipeline.RetryFactory{
//	    Classifier: func(resp *pipeline.Response, err error) bool {
//	        if resp != nil && resp.StatusCode == http.StatusInternalServerError {
//	            return true
//	        }
//	        return pipeline.DefaultClassifier(resp, err)
//	    },
//	}
type RetryClassifier func(resp *Response, err error) bool

// DefaultClassifier applies production-safe retry rules.
//
// Retries on:
//   - Transport errors (connection refused or reset, timeouts, EOF)
//   - 408, 429, 502, 503, 504
//
// Does NOT retry on:
//   - Cancellation or an expired deadline of the caller
//   - Malformed URLs and other errors raised before the transport
//   - Permanent transport errors (TLS certificate errors, NXDOMAIN)
//   - Any other status code
func DefaultClassifier(resp *Response, err error) bool {
	return StatusCodeClassifier(DefaultRetryableStatusCodes...)(resp, err)
}

// StatusCodeClassifier returns a classifier that retries the given status
// codes and transient transport errors.
func StatusCodeClassifier(codes ...int) RetryClassifier {
	codeSet := make(map[int]bool, len(codes))
	for _, code := range codes {
		codeSet[code] = true
	}

	return func(resp *Response, err error) bool {
		if err != nil {
			return isRetryableError(err)
		}
		if resp != nil {
			return codeSet[resp.StatusCode]
		}
		return false
	}
}

// NeverRetryClassifier returns a classifier that never retries.
func NeverRetryClassifier() RetryClassifier {
	return func(*Response, error) bool { return false }
}

// isRetryableError reports whether err is a transport failure that may
// succeed on another attempt.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var malformed *urlbuilder.MalformedURLError
	if errors.As(err, &malformed) {
		return false
	}

	// Only failures of the exchange itself are retried; errors raised by
	// policies (rate limit, open breaker, credentials) are returned as-is.
	if !IsTransportError(err) {
		return false
	}

	return !isPermanentError(err)
}

// isPermanentError returns true for transport errors that will not succeed
// on retry.
func isPermanentError(err error) bool {
	// TLS/Certificate errors
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	// DNS not found (host doesn't exist - NXDOMAIN)
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}

	// Fallback for wrapped errors where type checks fail
	errStr := strings.ToLower(err.Error())
	for _, p := range []string{"x509:", "certificate", "tls:", "permission denied"} {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// isNetworkError reports whether err is a network-level failure. Used by the
// breaker classifier, which counts only failures of the remote side.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}
