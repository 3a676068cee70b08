package code

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestRegistration(t *testing.T) {
	const message = "fun for the whole family"
	c := Register(-100, message)
	if got := c.String(); got != message {
		t.Errorf("Register(-100): got %q, want %q", got, message)
	} else if c != -100 {
		t.Errorf("Register(-100): got %d instead", c)
	}
}

func TestRegistrationError(t *testing.T) {
	defer func() {
		if v := recover(); v != nil {
			t.Logf("Register correctly panicked: %v", v)
		} else {
			t.Fatalf("Register should have panicked on input %d, but did not", ParseError)
		}
	}()
	Register(int32(ParseError), "bogus")
}

func TestDefaultMessages(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{ParseError, "Parse error"},
		{InvalidRequest, "Invalid Request"},
		{MethodNotFound, "Method not found"},
		{InvalidParams, "Invalid params"},
		{InternalError, "Internal error"},
		{ServerError, "Server error"},
		{Code(-32123), "error code -32123"},
	}
	for _, test := range tests {
		if got := test.code.String(); got != test.want {
			t.Errorf("Code(%d).String(): got %q, want %q", test.code, got, test.want)
		}
	}
}

type testCoder Code

func (t testCoder) ErrCode() Code { return Code(t) }
func (testCoder) Error() string   { return "bogus" }

func TestFromError(t *testing.T) {
	tests := []struct {
		input error
		want  Code
	}{
		{nil, NoError},
		{testCoder(ParseError), ParseError},
		{testCoder(InvalidRequest), InvalidRequest},
		{fmt.Errorf("wrapped: %w", testCoder(MethodNotFound)), MethodNotFound},
		{context.Canceled, Cancelled},
		{fmt.Errorf("wrapped: %w", context.Canceled), Cancelled},
		{context.DeadlineExceeded, DeadlineExceeded},
		{errors.New("other"), SystemError},
		{io.EOF, SystemError},
	}
	for _, test := range tests {
		if got := FromError(test.input); got != test.want {
			t.Errorf("FromError(%v): got %v, want %v", test.input, got, test.want)
		}
	}
}

func TestErr(t *testing.T) {
	if err := NoError.Err(); err != nil {
		t.Errorf("NoError.Err(): got %v, want nil", err)
	}
	if err := ParseError.Err(); err == nil {
		t.Error("ParseError.Err(): got nil, want an error")
	} else if got, want := err.Error(), "[-32700] Parse error"; got != want {
		t.Errorf("ParseError.Err(): got %q, want %q", got, want)
	}
	if err := Code(-32123).Err(); err == nil {
		t.Error("unregistered code: got nil, want an error")
	} else if got, want := err.Error(), "error code -32123"; got != want {
		t.Errorf("unregistered code: got %q, want %q", got, want)
	}
}
