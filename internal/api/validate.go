package api

import (
	"fmt"
	"time"

	"loadplanner/internal/model"
)

const todayLayout = "2006-01-02"

func validateCreatePlanRequest(req *model.CreatePlanRequest) error {
	if req.Today != "" {
		if _, err := time.Parse(todayLayout, req.Today); err != nil {
			return fmt.Errorf("today must be formatted %s", todayLayout)
		}
	}
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateCombineRequest(req *model.CombineRequest) error {
	if req.Version < 0 {
		return fmt.Errorf("version must be >= 0")
	}
	for i, ref := range req.Selection {
		if ref.TruckNumber <= 0 {
			return fmt.Errorf("selection[%d]: truckNumber must be > 0", i)
		}
		if ref.FragmentID == "" {
			return fmt.Errorf("selection[%d]: fragmentId is required", i)
		}
	}
	return nil
}
