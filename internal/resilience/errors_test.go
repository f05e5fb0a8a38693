package resilience

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"tagged transient", NewTransientError(eris.New("503 from server"), 503), true},
		{"wrapped transient", fmt.Errorf("upload failed: %w", NewTransientError(eris.New("busy"), 429)), true},
		{"net timeout", net.Error(timeoutErr{}), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"reset message heuristic", eris.New("read tcp: connection reset by peer"), true},
		{"dns failure", eris.New("dial tcp: lookup mdas.example.com: no such host"), true},
		{"plain error", eris.New("invalid api key"), false},
		{"context canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := eris.New("boom")
	te := NewTransientError(inner, 500)
	assert.Equal(t, "boom", te.Error())
	assert.Equal(t, inner, te.Unwrap())
	assert.Equal(t, 500, te.StatusCode)
}
