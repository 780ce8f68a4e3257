package model

import (
	"fmt"
	"time"
)

// RequestDraft is the request as it would be sent right now.
type RequestDraft struct {
	Method  Method
	URL     string
	Body    string
	Headers HeaderSet
}

// Sendable reports whether the draft has a URL.
func (d RequestDraft) Sendable() bool {
	return d.URL != ""
}

// Clone returns a copy that shares no memory with d.
func (d RequestDraft) Clone() RequestDraft {
	d.Headers = d.Headers.Clone()
	return d
}

// Response is the successful side of an exchange.
type Response struct {
	StatusCode  uint16
	StatusText  string
	HeadersText string
	Body        string
	Elapsed     time.Duration
	Size        int64
}

// Status renders the status line, e.g. "200 OK".
func (r Response) Status() string {
	if r.StatusText == "" {
		return fmt.Sprintf("%d", r.StatusCode)
	}
	return fmt.Sprintf("%d %s", r.StatusCode, r.StatusText)
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r Response) IsSuccess() bool {
	return IsSuccessStatus(int(r.StatusCode))
}

// IsSuccessStatus reports whether code is 200..299.
func IsSuccessStatus(code int) bool {
	return code >= 200 && code <= 299
}

// ExchangeResult is the outcome of one dispatched request: exactly one of
// Response or Err is set.
type ExchangeResult struct {
	Response *Response
	Err      string
}

// Success wraps a response into a result.
func Success(resp Response) ExchangeResult {
	return ExchangeResult{Response: &resp}
}

// Failure builds a failed result from a message.
func Failure(msg string) ExchangeResult {
	return ExchangeResult{Err: msg}
}

// Failed reports whether the exchange did not produce a response.
func (r ExchangeResult) Failed() bool {
	return r.Response == nil
}

// FormatElapsed renders a duration as a short human-readable string.
func FormatElapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
