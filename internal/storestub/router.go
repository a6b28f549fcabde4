package storestub

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/entitystore"
)

// NewRouter exposes s over HTTP.
func NewRouter(s *Store) chi.Router {
	h := &handler{s: s}
	r := chi.NewRouter()
	r.Get("/", h.health)
	r.Post("/upload", h.upload)
	r.Get("/cat/{cid}", h.cat)
	r.Get("/entities", h.list)
	r.Post("/entities", h.create)
	r.Get("/entities/{pi}", h.get)
	r.Post("/entities/{pi}/versions", h.appendVersion)
	r.Get("/resolve/{pi}", h.resolve)
	r.Get("/arke", h.anchor)
	return r
}

type handler struct {
	s *Store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, entitystore.ErrorBody{Message: err.Error()})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, entitystore.Health{Service: "arke-stub", Version: "1", Status: "ok"})
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, entitystore.ErrorBody{Message: "invalid multipart body"})
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, entitystore.ErrorBody{Message: "file is required"})
		return
	}
	out := make([]entitystore.UploadResult, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, entitystore.ErrorBody{Message: "unreadable part"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, entitystore.ErrorBody{Message: "unreadable part"})
			return
		}
		cid, size := h.s.Put(data)
		out = append(out, entitystore.UploadResult{Name: fh.Filename, CID: cid, Size: size})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) cat(w http.ResponseWriter, r *http.Request) {
	data, ok := h.s.Blob(chi.URLParam(r, "cid"))
	if !ok {
		writeJSON(w, http.StatusNotFound, entitystore.ErrorBody{Message: "blob not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	writeJSON(w, http.StatusOK, h.s.List(offset, limit))
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req entitystore.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, entitystore.ErrorBody{Message: "invalid JSON body"})
		return
	}
	res, err := h.s.Create(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	v, err := h.s.Latest(chi.URLParam(r, "pi"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	v, err := h.s.Latest(chi.URLParam(r, "pi"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entitystore.ResolveResult{PI: v.PI, Tip: v.ManifestCID})
}

func (h *handler) appendVersion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req entitystore.AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, entitystore.ErrorBody{Message: "invalid JSON body"})
		return
	}
	res, err := h.s.Append(chi.URLParam(r, "pi"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) anchor(w http.ResponseWriter, _ *http.Request) {
	v, err := h.s.Latest(AnchorPI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
