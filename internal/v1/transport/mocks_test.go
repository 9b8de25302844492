package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/git-yup-ai/sim/internal/v1/auth"
	"github.com/git-yup-ai/sim/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

// MockConnection implements wsConnection
type MockConnection struct {
	mu               sync.Mutex
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
	closeCalls       int
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.closeCalls++
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (m *MockConnection) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// MockRouter implements types.SocketRouter and records every dispatch.
type MockRouter struct {
	mu              sync.Mutex
	routeCalls      int
	disconnectCalls int
	lastFrame       []byte
}

func (m *MockRouter) Route(_ context.Context, _ types.ClientInterface, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routeCalls++
	m.lastFrame = append([]byte(nil), data...)
}

func (m *MockRouter) HandleDisconnect(_ context.Context, _ types.ClientInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
}

func (m *MockRouter) RouteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routeCalls
}

func (m *MockRouter) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

func (m *MockRouter) LastFrame() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFrame
}

// MockTokenValidator implements types.TokenValidator for testing
type MockTokenValidator struct {
	shouldFail bool
}

func (m *MockTokenValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if m.shouldFail {
		return nil, assert.AnError
	}
	claims := &auth.CustomClaims{
		Name:    "Test User",
		Email:   "test@example.com",
		Picture: "https://example.com/avatar.png",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "test-user-123",
		},
	}
	return claims, nil
}

func decodeEnvelope(data []byte) (types.Envelope, error) {
	var env types.Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
