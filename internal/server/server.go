// Package server exposes the ingestion and query pipelines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
)

const (
	multipartMemory = 8 << 20

	// statusClientClosedRequest is reported when the caller went away.
	statusClientClosedRequest = 499
)

// Pipeline is the part of rag.RAG the handlers need.
type Pipeline interface {
	Ingest(ctx context.Context, filename string, content []byte) (*rag.IngestResult, error)
	Query(ctx context.Context, question string) (*models.QueryResponse, error)
	Summarize(ctx context.Context, source string) (*models.SummaryResponse, error)
}

type Server struct {
	pipeline       Pipeline
	maxUploadBytes int64
}

func New(p Pipeline, maxUploadBytes int64) *Server {
	return &Server{pipeline: p, maxUploadBytes: maxUploadBytes}
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload-pdf", s.uploadHandler)
	mux.HandleFunc("POST /upload", s.batchUploadHandler)
	mux.HandleFunc("GET /query/", s.queryHandler)
	mux.HandleFunc("GET /query", s.queryHandler)
	mux.HandleFunc("GET /summary", s.summaryHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	var h http.Handler = mux
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	})(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Requests in flight
// when ctx ends are allowed to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return requestError(err, "invalid multipart upload")
	}
	return nil
}

func (s *Server) ingestFile(r *http.Request, header *multipart.FileHeader) (*models.UploadResponse, error) {
	file, err := header.Open()
	if err != nil {
		return nil, requestError(err, "failed to open upload")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, requestError(err, "failed to read upload")
	}

	res, err := s.pipeline.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		return nil, err
	}
	return &models.UploadResponse{
		Status:   "uploaded",
		Chunks:   res.Chunks,
		Source:   res.Source,
		IngestID: res.IngestID,
	}, nil
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required", models.ErrInvalidParameters))
		return
	}

	resp, err := s.ingestFile(r, headers[0])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// batchUploadHandler ingests every "files" part in order. A lone "file" part
// gets the single-document response of /upload-pdf. Documents ingested before
// a failure stay stored and are listed in the error body.
func (s *Server) batchUploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		single := r.MultipartForm.File["file"]
		if len(single) == 0 {
			writeError(w, r, fmt.Errorf("%w: multipart field \"files\" is required", models.ErrInvalidParameters))
			return
		}
		resp, err := s.ingestFile(r, single[0])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, resp)
		return
	}

	docs := make([]models.UploadResponse, 0, len(headers))
	for _, header := range headers {
		resp, err := s.ingestFile(r, header)
		if err != nil {
			writeBatchError(w, r, fmt.Errorf("%s: %w", header.Filename, err), docs)
			return
		}
		docs = append(docs, *resp)
	}
	writeJSON(w, r, http.StatusOK, models.BatchUploadResponse{Status: "uploaded", Documents: docs})
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.pipeline.Query(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.pipeline.Summarize(r.Context(), r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// errTooLarge marks an upload over the configured limit.
var errTooLarge = errors.New("upload too large")

func requestError(err error, msg string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit is %d bytes", errTooLarge, maxErr.Limit)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrInvalidParameters, msg, err)
}

type errorResponse struct {
	Error        string                  `json:"error"`
	Retryable    bool                    `json:"retryable"`
	ChunksStored *int                    `json:"chunks_stored,omitempty"`
	Uploaded     []models.UploadResponse `json:"uploaded,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmbeddingUnavailable),
		errors.Is(err, models.ErrStoreUnavailable),
		errors.Is(err, models.ErrSynthesisUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeBatchError(w, r, err, nil)
}

func writeBatchError(w http.ResponseWriter, r *http.Request, err error, uploaded []models.UploadResponse) {
	status := statusFor(err)
	var event *zerolog.Event
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	} else {
		event = hlog.FromRequest(r).Warn()
	}
	event.Err(err).Int("status", status).Msg("Request failed")

	resp := errorResponse{Error: err.Error(), Retryable: models.IsRetryable(err), Uploaded: uploaded}
	if stored, ok := rag.StoredCount(err); ok {
		resp.ChunksStored = &stored
	}
	writeJSON(w, r, status, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to write response")
	}
}
