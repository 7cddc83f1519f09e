package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/settlement-backend/internal/notifications"
)

func dial(t *testing.T, m *Manager, account string) *gorillaws.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := m.HandleConnection(w, r, r.URL.Query().Get("account"))
		assert.NoError(t, err)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?account=" + account
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestManager_PublishReachesTargets(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	alice := dial(t, m, "0.0.1001")
	bob := dial(t, m, "0.0.1002")
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Publish(notifications.NewSettlementMessage(
		notifications.EventProceedsClaimed, "0.0.1001", map[string]interface{}{"serial_number": 1}, "0.0.1001")))
	require.NoError(t, m.Publish(notifications.NewSettlementMessage(
		notifications.EventCreditListed, "0.0.1001", map[string]interface{}{"serial_number": 1})))

	var got notifications.WebSocketMessage
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, alice.ReadJSON(&got))
	assert.Equal(t, notifications.EventProceedsClaimed, got.Event)
	require.NoError(t, alice.ReadJSON(&got))
	assert.Equal(t, notifications.EventCreditListed, got.Event)

	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, bob.ReadJSON(&got))
	assert.Equal(t, notifications.EventCreditListed, got.Event, "targeted message skipped")
	assert.Equal(t, notifications.WSMessageTypeSettlement, got.Type)
}

func TestManager_PresenceGetsStatus(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	conn := dial(t, m, "0.0.1001")
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(notifications.WebSocketMessage{Type: notifications.WSMessageTypePresence}))

	var got notifications.WebSocketMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, notifications.WSMessageTypeStatus, got.Type)
	assert.Equal(t, "connected", got.Data["status"])

	info := m.GetConnectionInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "0.0.1001", info[0].AccountID)
}

func TestManager_DisconnectUnregisters(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	conn := dial(t, m, "0.0.1001")
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_PublishAfterClose(t *testing.T) {
	m := NewManager(nil)
	m.Close()
	m.Close()

	assert.Error(t, m.Publish(notifications.NewSettlementMessage(notifications.EventCreditSold, "", nil)))
}
