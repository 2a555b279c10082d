package domain

import (
	"errors"
	"net/url"
	"strings"
)

// ValidateInput accepts raw user input when it parses as an absolute URL
// with both a scheme and a host. Surrounding whitespace is ignored and the
// trimmed value is what gets submitted.
func ValidateInput(raw string) (JobRequest, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return JobRequest{}, &InvalidInputError{Input: raw, Err: errors.New("empty input")}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return JobRequest{}, &InvalidInputError{Input: raw, Err: err}
	}
	if parsed.Scheme == "" {
		return JobRequest{}, &InvalidInputError{Input: raw, Err: errors.New("missing scheme")}
	}
	if parsed.Host == "" {
		return JobRequest{}, &InvalidInputError{Input: raw, Err: errors.New("missing host")}
	}
	return JobRequest{Input: trimmed}, nil
}
