package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/digkill/msai-studio/internal/storage"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.UploadMaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", limit))
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", limit))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	contentType := http.DetectContentType(data)
	if !storage.IsMedia(contentType) {
		contentType = header.Header.Get("Content-Type")
	}
	if !storage.IsMedia(contentType) {
		writeError(w, http.StatusUnsupportedMediaType, "only image and video uploads are accepted")
		return
	}

	userID := userIDFrom(r.Context())
	key := s.svc.Files.UserKey(userID, storage.KindUploads, contentType)
	url, err := s.svc.Files.Put(r.Context(), key, data, contentType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url, "key": key})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	objects, err := s.svc.Files.List(r.Context(), s.svc.Files.UserPrefix(userIDFrom(r.Context())))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(objects))
}
