package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accountlink/internal/domain/connection"
)

// HandleInstitutions lists the catalog offered by the automated link,
// filtered by the optional q parameter.
func HandleInstitutions(w http.ResponseWriter, r *http.Request) {
	results := connection.SearchInstitutions(r.URL.Query().Get("q"))
	if results == nil {
		results = []connection.Institution{}
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleInstitution returns one catalog entry by id or name.
func HandleInstitution(w http.ResponseWriter, r *http.Request) {
	inst, ok := connection.FindInstitution(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "institution not found"})
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
