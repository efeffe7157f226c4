package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/latticeopt/internal/logging"
)

func TestErrorString(t *testing.T) {
	err := Wrap(io.EOF, "cell failed").WithOperation("solve").WithComponent("ensemble")
	assert.Equal(t, "cell failed: operation=solve, component=ensemble: EOF", err.Error())
	assert.NotEmpty(t, err.StackTrace())
}

func TestWrapKeepsChain(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Wrap(cause, "reading problem")
	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "reading problem: unexpected EOF", err.Error())

	assert.Nil(t, Wrap(nil, "nothing"))

	var target *Error
	assert.True(t, stderrors.As(Wrap(err, "outer"), &target))
}

func TestWrapReusesStack(t *testing.T) {
	inner := Wrap(io.EOF, "inner")
	outer := Wrap(inner, "outer")
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestRecovered(t *testing.T) {
	capture := func(fn func()) (err *Error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = Recovered(rec)
			}
		}()
		fn()
		return nil
	}

	err := capture(func() { panic("index out of range") })
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "index out of range")
	assert.NotEmpty(t, err.StackTrace())

	sentinel := stderrors.New("boom")
	err = capture(func() { panic(sentinel) })
	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, sentinel))
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "Recovered from panic", entry["message"])
	assert.Equal(t, "handler exploded", entry["error"])
	assert.Equal(t, "/api/v1/status/x", entry["path"])
}

func TestErrorHandlerLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	handler := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, buf.String(), `"status":404`)
}
