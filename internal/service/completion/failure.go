package completion

import "fmt"

// Kind classifies why a completion attempt produced no usable text.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidRequest     Kind = "invalid_request"
	KindRateLimited        Kind = "rate_limited"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTimeout            Kind = "timeout"
	KindNoCandidates       Kind = "no_candidates"
	KindNoContentParts     Kind = "no_content_parts"
	KindEmptyText          Kind = "empty_text"
)

// Failure carries the classified outcome of a failed completion call.
// Status is the upstream HTTP status when one was received, 0 otherwise.
type Failure struct {
	Kind    Kind
	Status  int
	Message string
}

func (f *Failure) Error() string {
	if f.Status > 0 {
		return fmt.Sprintf("completion %s (status %d): %s", f.Kind, f.Status, f.Message)
	}
	return fmt.Sprintf("completion %s: %s", f.Kind, f.Message)
}

// Retryable reports whether another attempt could reasonably succeed.
// Credential and request-shape problems never heal on retry, and a
// response that parsed but carried no text is a final answer.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindRateLimited, KindServiceUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// classifyStatus maps an upstream HTTP status to a Failure kind.
func classifyStatus(status int, body string) *Failure {
	f := &Failure{Status: status, Message: body}
	switch {
	case status == 401 || status == 403:
		f.Kind = KindUnauthorized
	case status == 429:
		f.Kind = KindRateLimited
	case status >= 500:
		f.Kind = KindServiceUnavailable
	default:
		f.Kind = KindInvalidRequest
	}
	return f
}
