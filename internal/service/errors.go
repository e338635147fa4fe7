package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError rejects a request before any network call is made
type ValidationError struct {
	Reason  string
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("%s (allowed: %s)", e.Reason, strings.Join(e.Allowed, ", "))
	}
	return e.Reason
}

// UnavailableError reports a provider that failed its liveness probe
type UnavailableError struct {
	Provider string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s is unavailable", e.Provider)
}

// PolicyError reports content flagged by moderation
type PolicyError struct{}

func (e *PolicyError) Error() string {
	return "content flagged by moderation"
}

// ConnectionError wraps a transport failure reaching a provider
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProviderError wraps any other provider failure (bad request, auth, quota, decode)
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed audit write. It never reaches the user.
type PersistenceError struct {
	Resource string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Resource, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// wrapTransportError turns an http.Client.Do error into a ConnectionError.
// Context cancellation stays a ProviderError so callers can tell an abandoned
// request from an unreachable host.
func wrapTransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: provider, Err: err}
	}
	return &ConnectionError{Provider: provider, Err: err}
}

// IsConnectionError reports whether err is a transport level failure
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// classifyError normalizes any error coming out of a provider call into the taxonomy
func classifyError(provider string, err error) error {
	var (
		connErr     *ConnectionError
		providerErr *ProviderError
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &providerErr):
		return err
	case IsConnectionError(err):
		return &ConnectionError{Provider: provider, Err: err}
	default:
		return &ProviderError{Provider: provider, Err: err}
	}
}

// UserMessage picks the text shown to the Discord user for a pipeline error
func UserMessage(err error) string {
	var (
		validationErr  *ValidationError
		unavailableErr *UnavailableError
		policyErr      *PolicyError
		connErr        *ConnectionError
		providerErr    *ProviderError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		if len(validationErr.Allowed) > 0 {
			return fmt.Sprintf("%s. Please choose one of: %s", capitalize(validationErr.Reason), strings.Join(validationErr.Allowed, ", "))
		}
		return capitalize(validationErr.Reason) + "."
	case errors.As(err, &unavailableErr):
		return "The local model server is not available right now. Please try again later."
	case errors.As(err, &policyErr):
		return "Your request was flagged by our content policy and was not processed."
	case errors.As(err, &connErr):
		return fmt.Sprintf("I couldn't connect to %s. Please try again later.", displayProvider(connErr.Provider))
	case errors.As(err, &providerErr):
		return fmt.Sprintf("The AI service returned an error: %v", providerErr.Err)
	default:
		return "I'm sorry, I encountered an error while processing your request. Please try again later."
	}
}

func displayProvider(id string) string {
	switch id {
	case ProviderHosted:
		return "the OpenAI API"
	case ProviderLocal:
		return "the Ollama server"
	case ProviderSpeech:
		return "the text to speech service"
	case ProviderCrypto:
		return "the crypto price service"
	default:
		return "the AI service"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
