package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
)

const maxUploadBytes = 512 << 20

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve extraction over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := goextract.New(a.cfg)
			if err != nil {
				return err
			}
			defer e.Close()
			return serve(cmd.Context(), addr, newRouter(e, os.Getenv("GOEXTRACT_API_KEY"), os.Getenv("GOEXTRACT_CORS_ORIGINS")))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      0, // large documents can take a while
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}

type handler struct {
	engine goextract.Engine
}

// newRouter wires the routes. Middleware order: recovery, request id,
// cors, auth, logging.
func newRouter(e goextract.Engine, apiKey, corsOrigins string) http.Handler {
	h := &handler{engine: e}
	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware(corsOrigins))
	r.Use(authMiddleware(apiKey))
	r.Use(logMiddleware)

	r.Post("/extract", h.handleExtract)
	r.Get("/formats", h.handleFormats)
	r.Get("/health", h.handleHealth)
	return r
}

// POST /extract
// Accepts a multipart upload in field "file", or the document as the raw
// request body with an optional ?filename= hint.
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	opts, err := requestOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var src goextract.Source
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "expected a multipart file in field 'file'")
			return
		}
		defer file.Close()
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
		// Sanitise the name; it is only a format hint.
		src = goextract.ReaderSource(file, header.Size, filepath.Base(header.Filename))
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if name := r.URL.Query().Get("filename"); name != "" {
			opts = append(opts, goextract.WithFormatHint(filepath.Base(name)))
		}
		src = goextract.BytesSource(data)
	}

	res, err := h.engine.Extract(r.Context(), src, opts...)
	if err != nil && res == nil {
		writeExtractError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		// Budget exhausted: the partial result is still returned.
		status = http.StatusPartialContent
		w.Header().Set("X-Extract-Error", err.Error())
	}
	writeJSON(w, status, res)
}

// GET /formats
func (h *handler) handleFormats(w http.ResponseWriter, r *http.Request) {
	type format struct {
		Format   string `json:"format"`
		MIMEType string `json:"mime_type"`
	}
	var out []format
	for _, f := range h.engine.Formats() {
		out = append(out, format{Format: f.String(), MIMEType: f.MIMEType()})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch goextract.KindOf(err) {
	case goextract.KindUnrecognizedFormat, goextract.KindUnsupportedVariant:
		return http.StatusUnsupportedMediaType
	case goextract.KindTruncatedInput, goextract.KindCorruptedPart:
		return http.StatusUnprocessableEntity
	case goextract.KindResourceLimitExceeded:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func writeExtractError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	var xerr *goextract.Error
	if errors.As(err, &xerr) {
		body["kind"] = xerr.Kind.String()
		if xerr.Part != "" {
			body["part"] = xerr.Part
		}
	}
	writeJSON(w, statusOf(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestOptions reads per-call options from query parameters.
func requestOptions(r *http.Request) ([]goextract.ExtractOption, error) {
	q := r.URL.Query()
	var opts []goextract.ExtractOption
	if s := q.Get("max_depth"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid max_depth %q", s)
		}
		opts = append(opts, goextract.WithMaxEmbeddedDepth(n))
	}
	if s := q.Get("max_output"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid max_output %q", s)
		}
		opts = append(opts, goextract.WithMaxOutputSize(n))
	}
	if s := q.Get("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid timeout %q", s)
		}
		opts = append(opts, goextract.WithTimeout(d))
	}
	if s := q.Get("ocr"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid ocr %q", s)
		}
		opts = append(opts, goextract.WithOCR(b))
	}
	return opts, nil
}
