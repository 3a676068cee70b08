// Package testutil defines internal support code for writing tests.
package testutil

import (
	"fmt"
	"testing"

	jsonrpc2 "github.com/kanreisa/jsonrpc2-ws"
)

// ParseRequest parses a single JSON request object.
func ParseRequest(s string) (*jsonrpc2.Request, error) {
	reqs, err := jsonrpc2.ParseRequests([]byte(s))
	if err != nil {
		return nil, err
	} else if len(reqs) != 1 {
		return nil, fmt.Errorf("got %d requests, want 1", len(reqs))
	} else if reqs[0].Error != nil {
		return nil, reqs[0].Error
	}
	return reqs[0].ToRequest(), nil
}

// MustParseRequest calls ParseRequest and fails t if it reports an error.
func MustParseRequest(t *testing.T, s string) *jsonrpc2.Request {
	t.Helper()

	req, err := ParseRequest(s)
	if err != nil {
		t.Fatalf("Parsing %#q failed: %v", s, err)
	}
	return req
}
