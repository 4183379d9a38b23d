package mocks

import (
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
	"github.com/stretchr/testify/mock"
)

// MockDeviceInfo is a mock implementation of the DeviceInfoInterface
type MockDeviceInfo struct {
	mock.Mock
}

func (m *MockDeviceInfo) LoadDeviceInfo() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDeviceInfo) GetDeviceID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockDeviceInfo) GetDeviceIdentity() *identity.Identity {
	args := m.Called()
	id, _ := args.Get(0).(*identity.Identity)
	return id
}

// NewStaticDeviceInfo returns a MockDeviceInfo that always answers with hwid and role.
func NewStaticDeviceInfo(hwid, role string) *MockDeviceInfo {
	m := new(MockDeviceInfo)
	m.On("LoadDeviceInfo").Return(nil)
	m.On("GetDeviceID").Return(hwid)
	m.On("GetDeviceIdentity").Return(&identity.Identity{HWID: hwid, Role: role, Source: "file"})
	return m
}
