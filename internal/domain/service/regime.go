package service

import (
	"context"

	"RegimeSim/internal/domain/models"
)

// RegimePathGenerator produces the regime path a simulation follows.
type RegimePathGenerator interface {
	Generate(ctx context.Context, start models.RegimeID, steps int, seed int64) ([]models.RegimeID, error)
}
