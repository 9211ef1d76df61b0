package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kiranshivaraju/mediagen/internal/gateway"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

// MockGateway satisfies gateway.Gateway for testing.
type MockGateway struct {
	CreateFunc func(ctx context.Context, model string, input map[string]any) (*models.Prediction, error)
	GetFunc    func(ctx context.Context, id string) (*models.Prediction, error)
	CancelFunc func(ctx context.Context, id string) error

	creates atomic.Int64
	gets    atomic.Int64

	mu       sync.Mutex
	canceled []string
}

func (m *MockGateway) CreatePrediction(ctx context.Context, model string, input map[string]any) (*models.Prediction, error) {
	n := m.creates.Add(1)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, model, input)
	}
	return &models.Prediction{ID: fmt.Sprintf("pred-%d", n), Status: models.PredictionStarting}, nil
}

func (m *MockGateway) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	m.gets.Add(1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &models.Prediction{ID: id, Status: models.PredictionProcessing}, nil
}

func (m *MockGateway) CancelPrediction(ctx context.Context, id string) error {
	m.mu.Lock()
	m.canceled = append(m.canceled, id)
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return nil
}

// Creates returns how many predictions were started.
func (m *MockGateway) Creates() int { return int(m.creates.Load()) }

// Gets returns how many status polls were made.
func (m *MockGateway) Gets() int { return int(m.gets.Load()) }

// Canceled returns the ids passed to CancelPrediction.
func (m *MockGateway) Canceled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.canceled...)
}

// NewSucceedingGateway returns a MockGateway whose predictions succeed after
// pollsBeforeDone polls with the given output.
func NewSucceedingGateway(output any, pollsBeforeDone int) *MockGateway {
	m := &MockGateway{}
	var polls atomic.Int64
	m.GetFunc = func(_ context.Context, id string) (*models.Prediction, error) {
		if int(polls.Add(1)) <= pollsBeforeDone {
			return &models.Prediction{ID: id, Status: models.PredictionProcessing}, nil
		}
		return &models.Prediction{ID: id, Status: models.PredictionSucceeded, Output: output}, nil
	}
	return m
}

// NewFailingGateway returns a MockGateway that cannot start predictions.
func NewFailingGateway(err error) *MockGateway {
	return &MockGateway{
		CreateFunc: func(_ context.Context, _ string, _ map[string]any) (*models.Prediction, error) {
			return nil, err
		},
	}
}

// NewRemoteStatusGateway returns a MockGateway whose predictions end in the
// given terminal status with errMsg.
func NewRemoteStatusGateway(status models.PredictionStatus, errMsg string) *MockGateway {
	return &MockGateway{
		GetFunc: func(_ context.Context, id string) (*models.Prediction, error) {
			return &models.Prediction{ID: id, Status: status, Error: errMsg}, nil
		},
	}
}

// NewStuckGateway returns a MockGateway whose predictions never finish.
func NewStuckGateway() *MockGateway {
	return &MockGateway{}
}

// NewPanickingGateway returns a MockGateway that panics when starting a
// prediction.
func NewPanickingGateway(v any) *MockGateway {
	return &MockGateway{
		CreateFunc: func(_ context.Context, _ string, _ map[string]any) (*models.Prediction, error) {
			panic(v)
		},
	}
}

var _ gateway.Gateway = (*MockGateway)(nil)
