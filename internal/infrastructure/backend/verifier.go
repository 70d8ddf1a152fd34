package backend

import (
	"net/http"
	"strings"

	"github.com/entitlesync/engine/internal/domain/customer"
)

// ResponseVerifier decides whether a response body can be trusted
type ResponseVerifier interface {
	Verify(header http.Header, body []byte) customer.VerificationResult
}

// HeaderVerifier reads the verdict an upstream verifier (a signing proxy or
// the backend itself) wrote into a response header. A missing or unknown
// verdict counts as failed.
type HeaderVerifier struct {
	Header string
}

// NewHeaderVerifier creates a HeaderVerifier for header, or the default header when empty
func NewHeaderVerifier(header string) *HeaderVerifier {
	if header == "" {
		header = DefaultVerificationHeader
	}
	return &HeaderVerifier{Header: header}
}

// Verify implements ResponseVerifier
func (v *HeaderVerifier) Verify(header http.Header, _ []byte) customer.VerificationResult {
	switch strings.ToLower(strings.TrimSpace(header.Get(v.Header))) {
	case "verified", "ok", "valid":
		return customer.VerificationVerified
	default:
		return customer.VerificationFailed
	}
}

// VerifierFunc adapts a function to ResponseVerifier
type VerifierFunc func(header http.Header, body []byte) customer.VerificationResult

// Verify implements ResponseVerifier
func (f VerifierFunc) Verify(header http.Header, body []byte) customer.VerificationResult {
	return f(header, body)
}

var _ ResponseVerifier = (*HeaderVerifier)(nil)
var _ ResponseVerifier = VerifierFunc(nil)
