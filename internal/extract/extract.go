// Package extract converts uploaded document bytes into plain text for
// chunking.
//
// Primary extraction goes through a remote parse service (table-aware PDF
// parsing, MIME-routed handling of Office formats and images). HTML is parsed
// in process with go-readability and plain text passes through untouched.
// PDFs have a pure in-process fallback that engages only when the service is
// unreachable or unconfigured, never when the document itself is malformed.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

var (
	// ErrUnavailable indicates no extraction path could run: the parse
	// service is unconfigured or failing and no fallback applies.
	ErrUnavailable = errors.New("extraction unavailable")

	// ErrMalformed indicates the document bytes themselves are unparseable.
	// Malformed input never triggers the fallback path.
	ErrMalformed = errors.New("malformed document")
)

// Extraction methods recorded on the document.
const (
	MethodService     = "parse_service"
	MethodReadability = "readability"
	MethodPlainText   = "plain_text"
	MethodPDFFallback = "pdf_fallback"
)

// PageBreak separates sub-document texts when an oversized PDF is split
// before extraction.
const PageBreak = "\n\n--- page break ---\n\n"

// Result is the outcome of a successful extraction.
type Result struct {
	Text      string
	Method    string
	PageCount int
}

// Service is the remote parse-service surface the extractor depends on.
type Service interface {
	Extract(ctx context.Context, data []byte, mimeType string) (text string, pages int, err error)
	Split(ctx context.Context, data []byte) ([][]byte, error)
}

// Options tunes the splitting thresholds and the PDF fallback.
type Options struct {
	// SplitPageLimit is the PDF page count above which the document is
	// split before extraction. Zero disables the page check.
	SplitPageLimit int

	// SplitByteLimit is the PDF byte size above which the document is
	// split before extraction. Zero disables the size check.
	SplitByteLimit int64

	// Fallback enables in-process PDF extraction when the service cannot
	// serve the request.
	Fallback bool
}

// Extractor routes documents to the right extraction path by MIME type.
type Extractor struct {
	svc    Service // nil when the parse service is unconfigured
	opts   Options
	logger log.Logger
}

// New creates an Extractor. svc may be nil, in which case only plain text,
// HTML, and (with Options.Fallback) PDF documents can be extracted.
func New(svc Service, opts Options, logger log.Logger) *Extractor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Extractor{svc: svc, opts: opts, logger: logger.With("component", "extract")}
}

// Extract converts data into plain text according to its declared MIME type.
// It reads the input and nothing else; persistence is the caller's concern.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	switch normalizeMIME(mimeType) {
	case "text/plain", "text/markdown":
		return &Result{Text: string(data), Method: MethodPlainText}, nil
	case "text/html":
		return e.extractHTML(data)
	case "application/pdf":
		return e.extractPDF(ctx, data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"image/png", "image/jpeg", "image/webp":
		return e.extractViaService(ctx, data, mimeType)
	default:
		return nil, fmt.Errorf("%w: unsupported MIME type %q", ErrUnavailable, mimeType)
	}
}

func (e *Extractor) extractHTML(data []byte) (*Result, error) {
	pageURL, _ := url.Parse("https://localhost/")
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: readability parse: %v", ErrMalformed, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("%w: no readable content", ErrMalformed)
	}
	return &Result{Text: text, Method: MethodReadability}, nil
}

// extractViaService handles MIME types that only the parse service can read.
// These have no fallback.
func (e *Extractor) extractViaService(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if e.svc == nil {
		return nil, fmt.Errorf("%w: parse service not configured for %s", ErrUnavailable, mimeType)
	}
	text, pages, err := e.svc.Extract(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Method: MethodService, PageCount: pages}, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	if e.svc == nil {
		if e.opts.Fallback {
			e.logger.Debug("parse service not configured, using PDF fallback")
			return fallbackPDF(data)
		}
		return nil, fmt.Errorf("%w: parse service not configured", ErrUnavailable)
	}

	res, err := e.servicePDF(ctx, data)
	if err == nil {
		return res, nil
	}
	// Fallback only covers service failures. A document the service
	// rejected as malformed stays rejected.
	if e.opts.Fallback && !errors.Is(err, ErrMalformed) {
		e.logger.Warn("parse service failed, using PDF fallback", "error", err)
		return fallbackPDF(data)
	}
	return nil, err
}

func (e *Extractor) servicePDF(ctx context.Context, data []byte) (*Result, error) {
	if !e.oversized(data) {
		text, pages, err := e.svc.Extract(ctx, data, "application/pdf")
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Method: MethodService, PageCount: pages}, nil
	}

	parts, err := e.svc.Split(ctx, data)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(parts))
	total := 0
	for i, part := range parts {
		text, pages, err := e.svc.Extract(ctx, part, "application/pdf")
		if err != nil {
			return nil, fmt.Errorf("extracting part %d/%d: %w", i+1, len(parts), err)
		}
		texts = append(texts, text)
		total += pages
	}
	return &Result{Text: strings.Join(texts, PageBreak), Method: MethodService, PageCount: total}, nil
}

// Oversized reports whether Extract will split this document before
// parsing. Only service-backed PDF extraction splits.
func (e *Extractor) Oversized(data []byte, mimeType string) bool {
	return normalizeMIME(mimeType) == "application/pdf" && e.svc != nil && e.oversized(data)
}

// oversized reports whether a PDF must be split before extraction. Page
// counting is best effort; an unreadable header defers to the byte limit.
func (e *Extractor) oversized(data []byte) bool {
	if e.opts.SplitByteLimit > 0 && int64(len(data)) > e.opts.SplitByteLimit {
		return true
	}
	if e.opts.SplitPageLimit > 0 {
		if pages, err := countPages(data); err == nil && pages > e.opts.SplitPageLimit {
			return true
		}
	}
	return false
}

func countPages(data []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("reading PDF: %w", err)
	}
	return r.NumPage(), nil
}

func fallbackPDF(data []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	textReader, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("%w: extracting text: %v", ErrMalformed, err)
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading text: %v", ErrMalformed, err)
	}
	return &Result{Text: string(text), Method: MethodPDFFallback, PageCount: r.NumPage()}, nil
}

func normalizeMIME(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
