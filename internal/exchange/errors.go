package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// TransportError wraps network-level failures: connection refused, timeouts,
// DNS. These are always retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is a server-side rejection of the request signature or timestamp.
type AuthError struct {
	Status int
	Code   int
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected: http %d code %d: %s", e.Status, e.Code, e.Msg)
}

// OrderRejected is any other server-side validation failure: quantity below
// minimum, insufficient margin, unknown symbol.
type OrderRejected struct {
	Status int
	Code   int
	Msg    string
}

func (e *OrderRejected) Error() string {
	return fmt.Sprintf("rejected: http %d code %d: %s", e.Status, e.Code, e.Msg)
}

// RetryExhausted wraps the last error after bounded retries.
type RetryExhausted struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhausted) Unwrap() error { return e.Err }

// Error codes the server uses for signature and timestamp rejections.
const (
	codeInvalidSignature = -1022
	codeMandatoryParam   = -1102
	codeTimestampOutside = -1021
)

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classifyStatusError converts a non-2xx response into AuthError or
// OrderRejected based on the status and the exchange error code in the body.
func classifyStatusError(status int, body []byte) error {
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Msg
	if msg == "" {
		msg = string(body)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthError{Status: status, Code: parsed.Code, Msg: msg}
	}
	switch parsed.Code {
	case codeInvalidSignature, codeMandatoryParam, codeTimestampOutside:
		return &AuthError{Status: status, Code: parsed.Code, Msg: msg}
	}
	return &OrderRejected{Status: status, Code: parsed.Code, Msg: msg}
}

// IsAuthError reports whether err is a signature/authentication-class
// rejection anywhere in its chain. The selector preflight uses this to decide
// whether a downgrade to the EVM signer is warranted.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
