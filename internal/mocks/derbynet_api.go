package mocks

import (
	"context"

	"github.com/soapboxderby/derbynet-agent/pkg/derbynet"
	"github.com/stretchr/testify/mock"
)

// MockDerbyAPI is a testify mock of derbynet.API.
type MockDerbyAPI struct {
	mock.Mock
}

func (m *MockDerbyAPI) Login(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDerbyAPI) SendTimerHeartbeat(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDerbyAPI) SendStart(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDerbyAPI) SendFinish(ctx context.Context, roundID, heat int, laneTimes map[int]float64) error {
	args := m.Called(ctx, roundID, heat, laneTimes)
	return args.Error(0)
}

func (m *MockDerbyAPI) GetRaceStatus(ctx context.Context) (*derbynet.RaceStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*derbynet.RaceStatus)
	return status, args.Error(1)
}
