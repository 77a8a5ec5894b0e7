package host_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatbot/internal/api"
	"chatbot/internal/host"
	_ "chatbot/internal/plugins/echo"
	_ "chatbot/internal/plugins/sun"
	"chatbot/internal/webapp"
	"chatbot/pkg/testutil"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "integration_token"
	room      = "!room:example.com"
	alice     = "@alice:example.com"
)

// waitForReply waits until a message with a body starting with prefix has
// been sent to room
func waitForReply(t *testing.T, server *testutil.MockChatServer, prefix string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		for _, body := range testutil.Bodies(testutil.FilterByRoom(server.SentMessages(), room)) {
			if strings.HasPrefix(body, prefix) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "no reply starting with %q", prefix)
}

func TestBundledPlugins(t *testing.T) {
	env, err := testutil.NewTestEnv(testToken)
	require.NoError(t, err)
	defer env.Cleanup()

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "echobot.yaml"), []byte("command: say\n"), 0644))

	mounts := webapp.NewTable(env.Logger)
	h := host.New(host.Options{
		Bus:       env.Client,
		Logger:    env.Logger,
		Mounts:    mounts,
		ConfigDir: configDir,
		PublicURL: "https://bot.example.com",
	})
	require.NoError(t, h.LoadAll([]host.Entry{
		{ID: "echobot", Type: "xyz.maubot.echo", Enabled: true},
		{ID: "sunbot", Type: "xyz.maubot.sun", Enabled: true},
	}))

	ctx := context.Background()
	require.NoError(t, h.StartAll(ctx))
	defer h.Close(ctx)

	admin := api.NewServer(h, mounts, healthcheck.NewHandler(), prometheus.NewRegistry(), "", env.Logger, 0).Handler()
	do := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "127.0.0.1:40000"
		rec := httptest.NewRecorder()
		admin.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("commands", func(t *testing.T) {
		require.NoError(t, env.Server.EmitText(room, alice, "!say hello there"))
		waitForReply(t, env.Server, "hello there")

		require.NoError(t, env.Server.EmitText(room, alice, "!sun 2026-06-21"))
		waitForReply(t, env.Server, "Sun times for 2026-06-21")
	})

	t.Run("web routes", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, webapp.BasePath+"echobot/ping"))
		assert.Equal(t, http.StatusOK, do(http.MethodGet, webapp.BasePath+"sunbot/times"))
	})

	t.Run("initial config", func(t *testing.T) {
		assert.FileExists(t, filepath.Join(configDir, "sunbot.yaml"), "base config is written out")
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/instances/sunbot/config"))

		values, err := h.Config("echobot")
		require.NoError(t, err)
		assert.Equal(t, "say", values["command"])
	})

	t.Run("handlers survive reconnect", func(t *testing.T) {
		env.Server.DropConnections()
		require.Eventually(t, func() bool {
			return env.Server.Connections() == 1 && env.Client.IsConnected()
		}, 2*time.Second, 10*time.Millisecond)

		env.Server.ClearSentMessages()
		require.NoError(t, env.Server.EmitText(room, alice, "!ping"))
		waitForReply(t, env.Server, "pong")
	})

	t.Run("stopped instance is silent", func(t *testing.T) {
		require.Equal(t, http.StatusOK, do(http.MethodPost, "/api/instances/echobot/stop"))
		assert.Equal(t, http.StatusNotFound, do(http.MethodGet, webapp.BasePath+"echobot/ping"))

		env.Server.ClearSentMessages()
		require.NoError(t, env.Server.EmitText(room, alice, "!ping"))
		require.NoError(t, env.Server.EmitText(room, alice, "!sun 2026-06-21"))
		waitForReply(t, env.Server, "Sun times")

		time.Sleep(100 * time.Millisecond)
		assert.Nil(t, testutil.FindByBody(env.Server.SentMessages(), "pong"))

		require.Equal(t, http.StatusOK, do(http.MethodPost, "/api/instances/echobot/start"))
		require.NoError(t, env.Server.EmitText(room, alice, "!ping"))
		waitForReply(t, env.Server, "pong")
	})
}
