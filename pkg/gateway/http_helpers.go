package gateway

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

const maxBodyBytes = 1 << 20

type statusResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// writeJSON writes JSON with status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope with the status derived from err.
// Server-side failures are logged.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		g.logger.ComponentError(logging.ComponentGateway, "request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	apperrors.WriteHTTPError(w, err, middleware.GetReqID(r.Context()))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("body", fmt.Sprintf("invalid JSON body: %v", err), nil)
	}
	return nil
}

// payloadRequest is the body of the publish and notify endpoints.
type payloadRequest struct {
	PayloadBase64 string `json:"payload_base64"`
	ContentType   string `json:"content_type"`
}

func (p payloadRequest) decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.PayloadBase64)
	if err != nil {
		return nil, apperrors.NewValidationError("payload_base64", "must be standard base64", nil)
	}
	return data, nil
}
