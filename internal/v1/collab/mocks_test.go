package collab

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

// MockClient implements types.ClientInterface for testing. Every frame it
// receives is decoded back into an envelope so tests can assert on events.
type MockClient struct {
	SocketID types.SocketIDType
	User     types.UserSession

	mu           sync.Mutex
	Frames       []types.Envelope
	closed       bool
	disconnected bool
}

func NewMockClient(socketID, userID, name string) *MockClient {
	return &MockClient{
		SocketID: types.SocketIDType(socketID),
		User: types.UserSession{
			UserID: types.UserIDType(userID),
			Name:   name,
		},
	}
}

func (m *MockClient) GetSocketID() types.SocketIDType { return m.SocketID }
func (m *MockClient) GetUser() types.UserSession      { return m.User }

func (m *MockClient) Send(event string, payload any) {
	data, err := types.NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	m.SendRaw(data)
}

func (m *MockClient) SendRaw(data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.Frames = append(m.Frames, env)
}

// Close makes subsequent frames drop silently, the same way a real client
// drops enqueues once its socket channels are closed.
func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

// CountEvent returns how many frames with the given event were received.
func (m *MockClient) CountEvent(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.Frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

// LastEvent decodes the payload of the most recent frame with the given
// event into v. Fails the test if no such frame arrived.
func (m *MockClient) LastEvent(t *testing.T, event string, v any) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Frames) - 1; i >= 0; i-- {
		if m.Frames[i].Event == event {
			if v != nil {
				require.NoError(t, json.Unmarshal(m.Frames[i].Payload, v))
			}
			return
		}
	}
	t.Fatalf("no %q frame received", event)
}

// Reset clears recorded frames.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = nil
}
