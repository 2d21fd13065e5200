package marquee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClientError(t *testing.T) {
	err := &ClientError{
		Type:    ErrorTypeTransport,
		Message: "connection timeout",
	}

	expectedMsg := "TransportError: connection timeout"
	if err.Error() != expectedMsg {
		t.Errorf("Expected '%s', got '%s'", expectedMsg, err.Error())
	}

	errWithCause := &ClientError{
		Type:        ErrorTypeTransport,
		Message:     "transport call failed",
		Cause:       errors.New("dial tcp: refused"),
		RequestID:   "req-1",
		Attempt:     2,
		MaxAttempts: 8,
	}

	expectedMsgWithCause := "[req-1] TransportError: transport call failed (dial tcp: refused) (attempt 2/8)"
	if errWithCause.Error() != expectedMsgWithCause {
		t.Errorf("Expected '%s', got '%s'", expectedMsgWithCause, errWithCause.Error())
	}
}

func TestClientErrorNil(t *testing.T) {
	var err *ClientError
	if err.Error() != "<nil>" {
		t.Errorf("Expected '<nil>', got '%s'", err.Error())
	}
	if err.Unwrap() != nil {
		t.Error("Expected nil unwrap on nil error")
	}
	if err.Is(ErrCancelled) {
		t.Error("Expected nil error not to match")
	}
	if err.DebugInfo() != "Error: <nil>" {
		t.Errorf("Unexpected debug info for nil error: %s", err.DebugInfo())
	}
}

func TestClientErrorIs(t *testing.T) {
	cancelled := &ClientError{Type: ErrorTypeCancelled, Cause: context.Canceled}

	if !errors.Is(cancelled, ErrCancelled) {
		t.Error("Expected cancelled error to match ErrCancelled")
	}
	if !errors.Is(cancelled, context.Canceled) {
		t.Error("Expected cancelled error to unwrap to context.Canceled")
	}
	if !errors.Is(cancelled, &ClientError{Type: ErrorTypeCancelled}) {
		t.Error("Expected errors of the same type to match")
	}
	if errors.Is(cancelled, ErrRetryExhausted) {
		t.Error("Expected cancelled error not to match ErrRetryExhausted")
	}

	wrapped := fmt.Errorf("load movies: %w", &ClientError{Type: ErrorTypeParse})
	if !errors.Is(wrapped, ErrInvalidJSON) {
		t.Error("Expected wrapped parse error to match ErrInvalidJSON")
	}
}

func TestClientErrorDebugInfo(t *testing.T) {
	err := &ClientError{
		Type:       ErrorTypeHTTP,
		Message:    "bad gateway",
		RequestID:  "abc",
		Method:     http.MethodGet,
		URL:        "http://localhost:8080/api/main/movies/",
		StatusCode: http.StatusBadGateway,
	}

	info := err.DebugInfo()
	for _, want := range []string{"Error Type: HTTPError", "Request ID: abc", "Method: GET", "Status Code: 502"} {
		if !strings.Contains(info, want) {
			t.Errorf("Expected debug info to contain %q, got:\n%s", want, info)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", &ClientError{Type: ErrorTypeTransport}, true},
		{"cancelled", &ClientError{Type: ErrorTypeCancelled}, false},
		{"parse", &ClientError{Type: ErrorTypeParse}, false},
		{"reauth hook", &ClientError{Type: ErrorTypeReauth, Cause: errors.New("bad token")}, false},
		{"server error", &ClientError{Type: ErrorTypeHTTP, StatusCode: 503}, true},
		{"too many requests", &ClientError{Type: ErrorTypeRetryExhausted, StatusCode: 429}, true},
		{"not found", &ClientError{Type: ErrorTypeHTTP, StatusCode: 404}, false},
		{"envelope transport", &ErrorEnvelope{Kind: ErrorTypeTransport}, true},
		{"envelope cancelled", &ErrorEnvelope{Kind: ErrorTypeTransport, Cancelled: true}, false},
		{"envelope 500", &ErrorEnvelope{Kind: ErrorTypeHTTP, Status: 500}, true},
		{"plain error", errors.New("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewErrorEnvelope(t *testing.T) {
	if env := NewErrorEnvelope(&Response{StatusCode: http.StatusOK}); env != nil {
		t.Errorf("Expected nil envelope for 200, got %+v", env)
	}

	env := NewErrorEnvelope(&Response{StatusCode: http.StatusInternalServerError, Status: "500 Internal Server Error"})
	if env.Message != "Request failed with status 500: Internal Server Error" {
		t.Errorf("Unexpected message: %s", env.Message)
	}
	if env.Kind != ErrorTypeHTTP || !env.IsError || env.Status != 500 {
		t.Errorf("Unexpected envelope: %+v", env)
	}

	exhausted := NewErrorEnvelope(&Response{StatusCode: http.StatusNotFound, Exhausted: true})
	if exhausted.Kind != ErrorTypeRetryExhausted || !errors.Is(exhausted, ErrRetryExhausted) {
		t.Errorf("Expected exhausted envelope, got %+v", exhausted)
	}
	if exhausted.Message != "Request failed with status 404: Not Found" {
		t.Errorf("Unexpected message: %s", exhausted.Message)
	}

	sentinel := NewErrorEnvelope(sentinelResponse())
	if sentinel.Status != http.StatusUnauthorized || !errors.Is(sentinel, ErrUnauthenticated) {
		t.Errorf("Expected 401 envelope for sentinel, got %+v", sentinel)
	}

	parse := NewErrorEnvelope(&Response{StatusCode: 200, Err: &ClientError{Type: ErrorTypeParse, Message: "response body is not valid JSON"}})
	if parse.Kind != ErrorTypeParse || parse.Status != 200 {
		t.Errorf("Expected parse envelope, got %+v", parse)
	}
}

func TestErrorEnvelopeJSONShape(t *testing.T) {
	env := &ErrorEnvelope{Status: 503, IsError: true, Message: "Request failed with status 503: Service Unavailable", Kind: ErrorTypeHTTP}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"status", "isError", "error"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Expected key %q in %s", key, data)
		}
	}
	if _, ok := fields["cancelled"]; ok {
		t.Errorf("Expected cancelled to be omitted when false, got %s", data)
	}
}

func TestAsEnvelope(t *testing.T) {
	if AsEnvelope(nil) != nil {
		t.Error("Expected nil envelope for nil error")
	}

	original := &ErrorEnvelope{Status: 404, IsError: true}
	if AsEnvelope(fmt.Errorf("wrapped: %w", original)) != original {
		t.Error("Expected wrapped envelope to be returned as-is")
	}

	cancelled := AsEnvelope(context.DeadlineExceeded)
	if !cancelled.Cancelled || cancelled.Kind != ErrorTypeCancelled {
		t.Errorf("Expected cancellation envelope, got %+v", cancelled)
	}

	typed := AsEnvelope(&ClientError{Type: ErrorTypeParse, Message: "bad body", StatusCode: 200})
	if typed.Kind != ErrorTypeParse || typed.Status != 200 || typed.Message != "bad body" {
		t.Errorf("Expected parse envelope, got %+v", typed)
	}

	plain := AsEnvelope(errors.New("boom"))
	if plain.Kind != ErrorTypeTransport || !plain.IsError {
		t.Errorf("Expected transport envelope, got %+v", plain)
	}
}
