package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

// execute runs the CLI against a config file in a temp home directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func tempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"SIGNALPUSH_GEMINI_API_KEY", "SIGNALPUSH_FCM_SERVER_KEY", "SIGNALPUSH_FCM_DEVICE_TOKEN", "SIGNALPUSH_TEST_MODE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return home
}

func TestInitThenConfigGet(t *testing.T) {
	home := tempHome(t)
	cfgPath := filepath.Join(home, "cfg.yaml")

	out, err := execute(t, "--config", cfgPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)
	assert.DirExists(t, filepath.Join(home, ".signalpush", "media"))

	_, err = execute(t, "--config", cfgPath, "init")
	assert.Error(t, err, "init refuses to overwrite")

	out, err = execute(t, "--config", cfgPath, "config", "get", "notifications.primary")
	require.NoError(t, err)
	assert.Equal(t, `"fcm"`, strings.TrimSpace(out))
}

func TestConfigSetValidates(t *testing.T) {
	home := tempHome(t)
	cfgPath := filepath.Join(home, "cfg.yaml")
	require.NoError(t, config.Save(cfgPath, config.Defaults()))

	_, err := execute(t, "--config", cfgPath, "config", "set", "notifications.primary", "pushbullet")
	require.NoError(t, err)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "pushbullet", cfg.Notifications.Primary)

	_, err = execute(t, "--config", cfgPath, "config", "set", "notifications.primary", "carrier-pigeon")
	assert.Error(t, err)
}

func TestConfigListMasksSecrets(t *testing.T) {
	home := tempHome(t)
	cfgPath := filepath.Join(home, "cfg.yaml")
	cfg := config.Defaults()
	cfg.Notifications.Pushbullet.AccessToken = "o.abcdefghijklmnopqrstuvwxyz"
	require.NoError(t, config.Save(cfgPath, cfg))

	out, err := execute(t, "--config", cfgPath, "config", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "notifications.pushbullet.accessToken = o.ab****wxyz")
	assert.NotContains(t, out, "abcdefghijklmnop")
}

func TestNotifyTestReportsConfigError(t *testing.T) {
	home := tempHome(t)
	cfgPath := filepath.Join(home, "cfg.yaml")
	require.NoError(t, config.Save(cfgPath, config.Defaults()))

	out, err := execute(t, "--config", cfgPath, "notify", "test")
	require.Error(t, err)
	assert.Contains(t, out, "delivery: CONFIG_ERROR")
	assert.Contains(t, out, "FCM server key is required")
}

func TestExtractHeuristicOffline(t *testing.T) {
	home := tempHome(t)
	cfgPath := filepath.Join(home, "cfg.yaml")
	cfg := config.Defaults()
	cfg.AI.Enabled = false
	require.NoError(t, config.Save(cfgPath, cfg))

	out, err := execute(t, "--config", cfgPath, "extract", "GOLD sell now 2650")
	require.NoError(t, err)
	assert.Contains(t, out, `"path": "heuristic"`)
	assert.Contains(t, out, "XAUUSD SELL")

	_, err = execute(t, "--config", cfgPath, "extract")
	assert.Error(t, err)
}

func TestDoctorFailsWithoutPushCredentials(t *testing.T) {
	home := tempHome(t)
	cfgPath := filepath.Join(home, "cfg.yaml")
	require.NoError(t, config.Save(cfgPath, config.Defaults()))

	out, err := execute(t, "--config", cfgPath, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "[PASS] Config validation")
	assert.Contains(t, out, "[FAIL] Push: fcm (primary)")
	assert.Contains(t, out, "[WARN] Sources")
}

func TestCLIMessage(t *testing.T) {
	msg := cliMessage(" EURUSD buy ", "/tmp/chart.PNG")
	assert.Equal(t, "EURUSD buy", msg.Text)
	assert.True(t, msg.HasMedia)
	assert.Equal(t, domain.MediaImage, msg.MediaType)
	assert.Equal(t, "/tmp/chart.PNG", msg.MediaRef)
	assert.NotEmpty(t, msg.ID)

	assert.False(t, cliMessage("text only", "").HasMedia)
}

func TestBuildLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "signalpush.log")
	logger, err := buildLogger(config.GeneralConfig{LogLevel: "debug", LogFormat: "json", LogFile: logFile})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	_, err = buildLogger(config.GeneralConfig{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestServiceTemplates(t *testing.T) {
	unit := renderSystemd("/usr/local/bin/signalpush", "/etc/signalpush.yaml")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/signalpush run --config /etc/signalpush.yaml")

	plist := renderLaunchd("/opt/signalpush", "/cfg.yaml", t.TempDir())
	assert.Contains(t, plist, "<string>"+launchdLabel+"</string>")
	assert.Contains(t, plist, "<string>run</string>")
	assert.NotContains(t, plist, "{{")
}
