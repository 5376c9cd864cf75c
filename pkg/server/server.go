package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/kpfaulkner/collabstore/pkg/doctable"
)

// Wire envelopes. Payload bytes travel as std base64, which is what
// encoding/json does with []byte anyway.
type loadResponse struct {
	Payload []byte `json:"payload"`
	Version int64  `json:"version"`
}

type saveRequest struct {
	CurrentVersion int64  `json:"currentVersion"`
	Payload        []byte `json:"payload"`
}

type saveResponse struct {
	Version int64 `json:"version"`
}

type createRequest struct {
	Payload []byte `json:"payload"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the object service into a chi router.
// rl may be nil to run without rate limiting.
func NewServer(svc *ObjectService, rl *RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	h := handlers{svc: svc}

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(rl.Middleware)
		}
		r.Get("/objects/{owner}", h.list)
		r.Get("/objects/{owner}/{name}", h.load)
		r.Post("/objects/{owner}/{name}", h.save)
		r.Put("/objects/{owner}/{name}", h.create)
		r.Delete("/objects/{owner}/{name}", h.delete)
	})

	return r
}

type handlers struct {
	svc *ObjectService
}

func (h handlers) load(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	obj, err := h.svc.Load(r.Context(), owner, name)
	if errors.Is(err, ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{Payload: obj.Payload, Version: obj.Version})
}

func (h handlers) save(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	version, err := h.svc.Save(r.Context(), owner, name, req.CurrentVersion, req.Payload)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrVersionConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, doctable.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, saveResponse{Version: version})
	}
}

func (h handlers) create(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	version, err := h.svc.Create(r.Context(), owner, name, req.Payload)
	if errors.Is(err, doctable.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, saveResponse{Version: version})
}

func (h handlers) delete(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	if err := h.svc.Delete(r.Context(), owner, name); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h handlers) list(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	objs, err := h.svc.List(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]loadResponse, 0, len(objs))
	for _, obj := range objs {
		out = append(out, loadResponse{Payload: obj.Payload, Version: obj.Version})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("unable to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	} else {
		log.Debugf("request rejected: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
