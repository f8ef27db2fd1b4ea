package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/akhenakh/swathgeo/geoloc"
)

const maxBatchBody = 8 << 20

// Routes returns the REST API handler.
func (s *Server) Routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /getGeoLocation/{x}/{y}", s.getGeoLocationHandler)
	mux.HandleFunc("GET /getPixelLocation/{lat}/{lon}", s.getPixelLocationHandler)
	mux.HandleFunc("GET /findPixel/{lat}/{lon}", s.findPixelHandler)
	mux.HandleFunc("POST /locate", s.locateHandler)
	return withRequestID(logger, mux)
}

func (s *Server) getGeoLocationHandler(w http.ResponseWriter, r *http.Request) {
	x, y, ok := pathFloats(w, r, "x", "y")
	if !ok {
		return
	}
	pos, found := s.geoLocation(x, y)
	if !found {
		http.Error(w, fmt.Sprintf("no geolocation at pixel (%g, %g)", x, y), http.StatusNotFound)
		return
	}
	writeJSON(r.Context(), w, map[string]any{"x": x, "y": y, "latitude": pos.Lat, "longitude": pos.Lon})
}

func (s *Server) getPixelLocationHandler(w http.ResponseWriter, r *http.Request) {
	s.pixelHandler(w, r, s.pixelLocation)
}

func (s *Server) findPixelHandler(w http.ResponseWriter, r *http.Request) {
	s.pixelHandler(w, r, s.findPixel)
}

func (s *Server) pixelHandler(w http.ResponseWriter, r *http.Request, lookup func(lat, lon float64) (geoloc.PixelPos, bool)) {
	lat, lon, ok := pathFloats(w, r, "lat", "lon")
	if !ok {
		return
	}
	pos, found := lookup(lat, lon)
	if !found {
		http.Error(w, fmt.Sprintf("(%g, %g) is not covered by the swath", lat, lon), http.StatusNotFound)
		return
	}
	writeJSON(r.Context(), w, map[string]any{"latitude": lat, "longitude": lon, "x": pos.X, "y": pos.Y})
}

func (s *Server) locateHandler(w http.ResponseWriter, r *http.Request) {
	var points [][]float64
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&points); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	results, err := s.locateBatch(r.Context(), points)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		requestLogger(r.Context()).Warn("batch cancelled", "points", len(points), "error", err)
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(r.Context(), w, results)
}

// pathFloats parses two path values, answering 400 on failure.
func pathFloats(w http.ResponseWriter, r *http.Request, a, b string) (float64, float64, bool) {
	va, err := strconv.ParseFloat(r.PathValue(a), 64)
	if err != nil {
		http.Error(w, "Invalid "+a, http.StatusBadRequest)
		return 0, 0, false
	}
	vb, err := strconv.ParseFloat(r.PathValue(b), 64)
	if err != nil {
		http.Error(w, "Invalid "+b, http.StatusBadRequest)
		return 0, 0, false
	}
	return va, vb, true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLogger(ctx).Error("failed to write response", "error", err)
	}
}

type loggerKey struct{}

func requestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestID tags every request with a uuid, echoed in X-Request-Id and
// attached to the request's log lines.
func withRequestID(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		l := logger.With("request_id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), loggerKey{}, l)))
		l.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}
