package server

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"mycloud/internal/api"
	"mycloud/internal/apperrors"
	"mycloud/internal/files"
	"mycloud/internal/guard"
	"mycloud/internal/models"
)

const (
	// multipartOverhead allows for boundaries and the comment field around the file part.
	multipartOverhead int64 = 1 << 20
	sniffLength             = 3072
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	order, err := models.ParseFileOrder(r.URL.Query().Get("order"))
	if err != nil {
		s.writeServiceError(w, r, invalidArgument(err.Error()))
		return
	}
	records, err := s.files.List(r.Context(), principalFromContext(r.Context()), r.URL.Query().Get("owner"), order)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FileListResponse{Count: len(records), Files: records})
}

func (s *Server) handleFileStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.files.Stats(r.Context(), principalFromContext(r.Context()), r.URL.Query().Get("owner"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if principal.Anonymous() {
		s.writeServiceError(w, r, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication required"))
		return
	}
	if err := s.files.CheckUploadQuota(r.Context(), principal); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	maxBytes := s.maxUploadBytes
	if maxBytes <= 0 {
		maxBytes = guard.DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.multipartMemory); err != nil {
		s.writeServiceError(w, r, classifyMultipartError(err, maxBytes))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	input := files.UploadInput{Comment: r.FormValue("comment"), Size: -1}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// The operation layer reports MISSING_FILE after its access checks.
	case err != nil:
		s.writeServiceError(w, r, classifyMultipartError(err, maxBytes))
		return
	default:
		defer file.Close()
		content, sniffed, sniffErr := sniffContent(file)
		if sniffErr != nil {
			s.writeServiceError(w, r, apperrors.IO(sniffErr, "read upload"))
			return
		}
		input.Name = header.Filename
		input.Size = header.Size
		input.DeclaredType = header.Header.Get("Content-Type")
		input.SniffedType = sniffed
		input.Content = content
	}

	record, err := s.files.Upload(r.Context(), principal, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	uploadedBytesTotal.Add(float64(record.SizeBytes))
	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	record, err := s.files.Get(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	download, err := s.files.Download(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.serveDownload(w, r, download)
}

func (s *Server) handlePublicDownload(w http.ResponseWriter, r *http.Request) {
	download, err := s.files.PublicDownload(r.Context(), r.PathValue("link"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.serveDownload(w, r, download)
}

func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, download *files.Download) {
	defer download.Content.Close()
	record := download.Record

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	w.Header().Set("Content-Disposition", contentDisposition(record.OriginalName))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, download.Content)
	downloadedBytesTotal.Add(float64(written))
	if err != nil {
		s.log().Warn("download interrupted", "file_id", record.ID, "written", written, "error", err)
	}
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req api.RenameRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	record, err := s.files.Rename(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), req.NewName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCommentFile(w http.ResponseWriter, r *http.Request) {
	var req api.CommentRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	record, err := s.files.Comment(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), req.Comment)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if _, err := s.files.Delete(r.Context(), principalFromContext(r.Context()), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatusResponse{Status: "deleted"})
}

// sniffContent detects the media type from the leading bytes and returns a
// reader that still yields the whole stream.
func sniffContent(file multipart.File) (io.Reader, string, error) {
	head := make([]byte, sniffLength)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	sniffed := ""
	if n > 0 {
		sniffed = mimetype.Detect(head).String()
	}
	return io.MultiReader(bytes.NewReader(head), file), sniffed, nil
}

func classifyMultipartError(err error, maxBytes int64) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return guard.TooLarge(maxBytes)
	}
	if errors.Is(err, http.ErrNotMultipart) {
		return apperrors.Validation(apperrors.CodeMissingFile, "no file provided")
	}
	return apperrors.Wrap(err, apperrors.KindValidation, apperrors.CodeInvalidArgument, "invalid multipart payload")
}

func contentDisposition(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "download"
	}
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": name}); value != "" {
		return value
	}
	return "attachment"
}
