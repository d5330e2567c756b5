// Package gzippedhttp holds the middlewares that decode gzip request bodies
// and compress JSON and text responses for clients accepting gzip.
package gzippedhttp

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

var compressibleTypes = []string{"application/json", "text/plain", "text/html"}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

type gzipBody struct {
	body io.ReadCloser
	zr   *gzip.Reader
}

func (b *gzipBody) Read(p []byte) (int, error) {
	return b.zr.Read(p)
}

func (b *gzipBody) Close() error {
	if err := b.zr.Close(); err != nil {
		_ = b.body.Close()
		return err
	}
	return b.body.Close()
}

// compressingWriter defers the decision to compress until the handler has
// set its headers and status.
type compressingWriter struct {
	http.ResponseWriter
	zw          *gzip.Writer
	wroteHeader bool
}

func (w *compressingWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	header := w.Header()
	if statusCode < http.StatusMultipleChoices && statusCode != http.StatusNoContent && isCompressible(header.Get("Content-Type")) {
		zw := gzipWriterPool.Get().(*gzip.Writer)
		zw.Reset(w.ResponseWriter)
		w.zw = zw
		header.Set("Content-Encoding", "gzip")
		header.Del("Content-Length")
		header.Add("Vary", "Accept-Encoding")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *compressingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.zw != nil {
		return w.zw.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

func (w *compressingWriter) close() error {
	if w.zw == nil {
		return nil
	}
	err := w.zw.Close()
	gzipWriterPool.Put(w.zw)
	w.zw = nil
	return err
}

func isCompressible(contentType string) bool {
	for _, prefix := range compressibleTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// GzipResponse compresses successful JSON and text responses when the
// request's Accept-Encoding allows gzip.
func GzipResponse(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if !strings.Contains(request.Header.Get("Accept-Encoding"), "gzip") {
			h.ServeHTTP(response, request)
			return
		}

		writer := &compressingWriter{ResponseWriter: response}
		defer func() {
			_ = writer.close()
		}()

		h.ServeHTTP(writer, request)
	}

	return http.HandlerFunc(middleware)
}

// UngzipRequest replaces a gzip-encoded request body with its decoded stream.
// An undecodable body answers 400.
func UngzipRequest(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if !strings.Contains(request.Header.Get("Content-Encoding"), "gzip") {
			h.ServeHTTP(response, request)
			return
		}

		zr, err := gzip.NewReader(request.Body)
		if err != nil {
			http.Error(response, "malformed gzip body", http.StatusBadRequest)
			return
		}

		request.Body = &gzipBody{body: request.Body, zr: zr}
		request.Header.Del("Content-Encoding")
		request.ContentLength = -1

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
