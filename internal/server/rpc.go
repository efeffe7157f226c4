package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/copyleftdev/latticeopt/internal/models"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/problem"
)

// JSON-RPC 2.0 error codes. The -3200x range is ours.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeJobNotFound    = -32001
	codeJobFinished    = -32002
	codeBusy           = -32003
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type jobParams struct {
	ID string `json:"id"`
}

// rpcCode maps service errors onto JSON-RPC error codes.
func rpcCode(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return codeJobNotFound
	case errors.Is(err, ErrJobFinished):
		return codeJobFinished
	case errors.Is(err, ErrBusy):
		return codeBusy
	case errors.Is(err, optimization.ErrConfiguration),
		errors.Is(err, optimization.ErrSyntax),
		errors.Is(err, optimization.ErrSymbol):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

// unwrapParams accepts either a params object or a single-element array
// holding one.
func unwrapParams(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return trimmed
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil || len(list) != 1 {
		return trimmed
	}
	return list[0]
}

// handleJSONRPC handles JSON-RPC 2.0 requests on POST /rpc. Methods:
// solve.start, solve.status, solve.cancel, solve.list and models.list.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&request); err != nil {
		s.respondWithError(w, r, codeParseError, "Parse error", nil, err)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, r, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var (
		result interface{}
		err    error
	)
	params := unwrapParams(request.Params)
	switch request.Method {
	case "solve.start":
		result, err = s.rpcStart(params)
	case "solve.status":
		result, err = s.rpcWithID(params, func(id string) (interface{}, error) {
			return s.Status(id)
		})
	case "solve.cancel":
		result, err = s.rpcWithID(params, func(id string) (interface{}, error) {
			if err := s.Cancel(id); err != nil {
				return nil, err
			}
			return map[string]string{"id": id, "status": string(StatusCancelled)}, nil
		})
	case "solve.list":
		result = map[string]interface{}{"jobs": s.Jobs()}
	case "models.list":
		result = map[string]interface{}{"models": models.Names()}
	default:
		s.respondWithError(w, r, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		code := rpcCode(err)
		message := "Server error"
		if code == codeInvalidParams {
			message = "Invalid params"
		}
		s.respondWithError(w, r, code, message, request.ID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func (s *Server) rpcStart(params json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, optimization.NewError(optimization.ErrConfiguration, "missing problem definition")
	}
	def, err := problem.DecodeJSON(params)
	if err != nil {
		return nil, err
	}
	return s.Submit(*def)
}

func (s *Server) rpcWithID(params json.RawMessage, fn func(id string) (interface{}, error)) (interface{}, error) {
	var p jobParams
	if len(params) == 0 {
		return nil, optimization.NewError(optimization.ErrConfiguration, "id is required")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, optimization.WrapError(optimization.ErrConfiguration, err, "decoding params")
	}
	if p.ID == "" {
		return nil, optimization.NewError(optimization.ErrConfiguration, "id is required")
	}
	return fn(p.ID)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, code int, message string, id interface{}, cause error) {
	e := rpcError{Code: code, Message: message}
	fields := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if cause != nil {
		e.Data = cause.Error()
		fields["error"] = cause.Error()
	}
	s.requestLogger(r).Warn("JSON-RPC error", fields)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   e,
		"id":      id,
	})
}
