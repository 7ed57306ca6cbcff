package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/ingest"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// createImport handles POST /api/v1/imports. The body is either the raw
// export or a multipart form with a "file" part; ?platform= and ?filename=
// (or form fields of the same name before the file part) describe it.
func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := ingest.Payload{
		Platform:    q.Get("platform"),
		FileName:    q.Get("filename"),
		ContentType: r.Header.Get("Content-Type"),
		SizeBytes:   r.ContentLength,
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "size must be a non-negative integer")
			return
		}
		p.SizeBytes = n
	}
	if p.SizeBytes < 0 {
		p.SizeBytes = 0
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	var src io.Reader = body

	if mt, params, err := mime.ParseMediaType(p.ContentType); err == nil && mt == "multipart/form-data" {
		part, err := filePart(multipart.NewReader(body, params["boundary"]), &p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		defer part.Close()
		src = part
	}

	res, err := s.importer.Import(r.Context(), p, src)
	if err != nil {
		s.writeImportError(w, err)
		return
	}
	s.afterImport(r.Context(), p, res)
	writeJSON(w, http.StatusCreated, res)
}

// filePart advances to the "file" part, picking up platform and filename
// fields sent before it.
func filePart(mr *multipart.Reader, p *ingest.Payload) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New(`multipart body has no "file" part`)
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		switch part.FormName() {
		case "file":
			if p.FileName == "" {
				p.FileName = part.FileName()
			}
			p.ContentType = part.Header.Get("Content-Type")
			return part, nil
		case "platform", "filename":
			v, err := io.ReadAll(io.LimitReader(part, 256))
			part.Close()
			if err != nil {
				return nil, fmt.Errorf("read form field: %w", err)
			}
			val := strings.TrimSpace(string(v))
			if part.FormName() == "platform" && p.Platform == "" {
				p.Platform = val
			} else if part.FormName() == "filename" && p.FileName == "" {
				p.FileName = val
			}
		default:
			part.Close()
		}
	}
}

// afterImport publishes the event and writes the ledger row. Neither failure
// undoes the import.
func (s *Server) afterImport(ctx context.Context, p ingest.Payload, res *ingest.Result) {
	if s.publisher != nil {
		if err := s.publisher.PublishImportCompleted(res); err != nil {
			s.logger.Warn("failed to publish import event", "conversation_id", res.Conversation.Conversation.ID, "error", err)
		}
	}
	if s.ledger != nil {
		rec, err := store.NewImportRecord(p, res)
		if err == nil {
			err = s.ledger.RecordImport(ctx, rec)
		}
		if err != nil {
			s.logger.Warn("failed to record import", "conversation_id", res.Conversation.Conversation.ID, "error", err)
		}
	}
}

func (s *Server) writeImportError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	code := ingest.CodeOf(err)
	writeError(w, statusFor(code), string(code), err.Error())
}

// statusFor maps an import error code to an HTTP status.
func statusFor(code ingest.Code) int {
	switch code {
	case ingest.CodeUnsupportedPlatform, ingest.CodeEmptyContent, ingest.CodeStructuralMismatch:
		return http.StatusUnprocessableEntity
	case ingest.CodeParse:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// detect handles POST /api/v1/detect. Only the first sample bytes of the body
// are read.
func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	sample, err := io.ReadAll(io.LimitReader(r.Body, int64(s.sample)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "read body: "+err.Error())
		return
	}
	res := s.importer.Detect(sample, r.URL.Query().Get("filename"), r.Header.Get("Content-Type"))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.ledger.RecentImports(r.Context(), limit)
	if err != nil {
		s.logger.Error("list imports", "error", err)
		writeError(w, http.StatusInternalServerError, "", "could not list imports")
		return
	}
	if recs == nil {
		recs = []store.ImportRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": recs, "count": len(recs)})
}
