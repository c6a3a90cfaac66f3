package util

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderForwarded = "X-Registrar-Forwarded"

	contentTypeJSON = "application/json; charset=utf-8"
	encodingGzip    = "gzip"

	// MaxBodyBytes bounds every request body; a beat digest for a large
	// registry is the biggest thing on the wire.
	MaxBodyBytes = 64 << 20
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error  string          `json:"error"`
	Code   string          `json:"code"`
	Result json.RawMessage `json:"result,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code string, err error, result any) {
	body := ErrorBody{Error: err.Error(), Code: code}
	if result != nil {
		if raw, mErr := json.Marshal(result); mErr == nil {
			body.Result = raw
		}
	}
	WriteJSON(w, status, body)
}

// ReadJSON decodes the request body into v, inflating it first when the
// client sent it gzip encoded.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	var src io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), encodingGzip) {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	if err := json.NewDecoder(src).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// EncodeJSON marshals v into a request body, optionally gzip compressed.
func EncodeJSON(v any, compress bool) (*bytes.Buffer, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !compress {
		return bytes.NewBuffer(raw), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func SetBodyHeaders(h http.Header, compressed bool) {
	h.Set("Content-Type", contentTypeJSON)
	if compressed {
		h.Set("Content-Encoding", encodingGzip)
	}
}
