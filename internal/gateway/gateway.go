// Package gateway talks to the remote prediction provider.
package gateway

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/mediagen/pkg/models"
)

// Sentinel errors for prediction provider failures.
var (
	ErrUnreachable = errors.New("prediction provider unreachable")
	ErrTimeout     = errors.New("prediction provider timeout")
	ErrRejected    = errors.New("prediction provider rejected request")
	ErrBadResponse = errors.New("prediction provider bad response")
)

// Gateway starts remote predictions and reports their state.
type Gateway interface {
	CreatePrediction(ctx context.Context, model string, input map[string]any) (*models.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*models.Prediction, error)
	CancelPrediction(ctx context.Context, id string) error
}
