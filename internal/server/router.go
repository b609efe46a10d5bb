package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NewRouter wires the HTTP routes exposed by the gateway.
func NewRouter(logger *zap.Logger, h *APIHandlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("/api/reclaim/init", h.handleReclaimInit)
	mux.HandleFunc("/api/reclaim/callback", h.handleReclaimCallback)
	mux.HandleFunc("/api/reclaim/status/", h.handleReclaimStatus)
	mux.HandleFunc("/api/verify-kyc/", h.handleVerifyKYC)

	mux.HandleFunc("/api/db/user", h.handleUser)
	mux.HandleFunc("/api/db/verification", h.handleVerification)
	mux.HandleFunc("/api/db/binding", h.handleBinding)
	mux.HandleFunc("/api/db/analysis", h.handleAnalysis)
	mux.HandleFunc("/api/db/walrus", h.handleWalrus)

	mux.HandleFunc("/api/analyze", h.handleAnalyze)
	mux.HandleFunc("/api/evidence", h.handleEvidence)
	mux.HandleFunc("/api/evidence/", h.handleEvidenceBlob)

	return loggingMiddleware(logger, corsMiddleware(mux))
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

// провайдер шлёт callback с чужого origin, поэтому без CORS нельзя
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeConflict — форма ответа на повторное действие кошелька
func writeConflict(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusConflict, map[string]any{
		"error":      message,
		"canProceed": false,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
