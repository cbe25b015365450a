package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/energychat/internal/dataset"
)

// predictSample matches the number of points the dashboard plots.
const predictSample = 20

type predictRequest struct {
	BuildingNumber *int   `json:"buildingNumber"`
	Utility        string `json:"utility"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "dataset not configured")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.BuildingNumber == nil {
		writeError(w, http.StatusBadRequest, "buildingNumber is required")
		return
	}

	p, err := s.store.PredictSample(*req.BuildingNumber, req.Utility, predictSample)
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dataset.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		slog.Error("prediction failed", "building", *req.BuildingNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "prediction failed")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}
