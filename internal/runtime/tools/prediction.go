package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/energychat/internal/dataset"
)

// Predictor is the part of the dataset store the prediction tool uses.
type Predictor interface {
	Predict(building int, utility string) (*dataset.Prediction, error)
}

// RunPrediction scores a building's recent consumption against its
// baseline model.
type RunPrediction struct {
	store Predictor
}

// NewRunPrediction creates the prediction tool over store.
func NewRunPrediction(store Predictor) *RunPrediction {
	return &RunPrediction{store: store}
}

func (p *RunPrediction) Name() string { return "run_prediction" }
func (p *RunPrediction) Description() string {
	return "Run the baseline energy model for a building. Returns the latest predictions, an anomaly score, and model metrics."
}
func (p *RunPrediction) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"buildingNumber": {"type": "integer", "description": "Building number (e.g. 311)"},
			"utility": {
				"type": "string",
				"description": "Utility type (ELECTRICITY, GAS, STEAM, HEAT, COOLING)",
				"default": "ELECTRICITY"
			}
		},
		"required": ["buildingNumber"]
	}`)
}

func (p *RunPrediction) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		BuildingNumber int    `json:"buildingNumber"`
		Utility        string `json:"utility"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.store.Predict(params.BuildingNumber, params.Utility)
}
