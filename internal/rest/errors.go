package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError represents an error response from the venue
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Message)
}

// IsRetryable determines if this error should trigger a retry
func (e *APIError) IsRetryable() bool {
	retryableCodes := map[int]bool{
		-1003: true, // Too many requests
		-1021: true, // Timestamp outside recv window
	}
	return retryableCodes[e.Code]
}

// IsAuthError checks if this is an authentication error
func (e *APIError) IsAuthError() bool {
	authCodes := map[int]bool{
		-1022: true, // Invalid signature
		-2014: true, // API key format invalid
		-2015: true, // Invalid API key, IP, or permissions
	}
	return authCodes[e.Code]
}

// IsRateLimitError checks if this is a rate limiting error
func (e *APIError) IsRateLimitError() bool {
	return e.Code == -1003
}

// IsPositionModeError checks if this is a position mode change rejection
func (e *APIError) IsPositionModeError() bool {
	// -4068: position side cannot be changed with open positions/orders
	return e.Code == -4068
}

// ParseAPIError extracts and parses a venue error from an HTTP response
func ParseAPIError(resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("nil response")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read error response: %w", err)
	}

	var apiErr APIError
	jsonErr := json.Unmarshal(body, &apiErr)

	if jsonErr == nil && apiErr.Code != 0 {
		apiErr.HTTPStatus = resp.StatusCode
		return &apiErr
	}

	bodyStr := strings.TrimSpace(string(body))
	if jsonErr != nil && (strings.HasPrefix(bodyStr, "{") || strings.HasPrefix(bodyStr, "[")) {
		return fmt.Errorf("failed to parse error response: %w", jsonErr)
	}

	if bodyStr == "" {
		bodyStr = "empty response"
	}

	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bodyStr)
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	errMsg := err.Error()
	retryableStatuses := []string{
		"HTTP 429", // Too Many Requests
		"HTTP 500", // Internal Server Error
		"HTTP 502", // Bad Gateway
		"HTTP 503", // Service Unavailable
		"HTTP 504", // Gateway Timeout
	}

	for _, status := range retryableStatuses {
		if strings.Contains(errMsg, status) {
			return true
		}
	}

	return false
}

// ErrorWithContext wraps errors with operation context
func ErrorWithContext(err error, operation string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", operation, err)
}
