package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/reporting/pkg/analytics/dataset"
)

type DatasetHandler struct{}

func NewDatasetHandler() *DatasetHandler {
	return &DatasetHandler{}
}

func (h *DatasetHandler) Register(r *mux.Router) {
	r.HandleFunc("/datasets/describe", h.handleDescribe).Methods(http.MethodPost)
}

// handleDescribe builds the posted descriptor and returns its summary.
func (h *DatasetHandler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var desc dataset.Descriptor
	if err := decodeAndValidate(r, &desc); err != nil {
		respondError(w, r, err)
		return
	}
	def, err := desc.Build()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, def.Summary())
}
