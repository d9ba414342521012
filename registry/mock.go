package registry

import (
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the ClearanceRegistry and CredentialStore interfaces
type MockRegistry struct {
	mock.Mock
}

// ClearanceLevel mocks the ClearanceLevel method
func (m *MockRegistry) ClearanceLevel(identity string) interfaces.ClearanceLevel {
	args := m.Called(identity)
	return args.Get(0).(interfaces.ClearanceLevel)
}

// PasswordHash mocks the PasswordHash method
func (m *MockRegistry) PasswordHash(identity string) (string, bool) {
	args := m.Called(identity)
	return args.String(0), args.Bool(1)
}
