package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"grc-license-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func startPolicyApp(t *testing.T, module fx.Option) (string, *Holder, *fxtest.App) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enforcement:\n  mode: permissive\n"), 0o600))

	cfg := &config.Config{}
	cfg.License.PolicyPath = path
	cfg.License.WatchPolicy = true

	var h *Holder
	app := fxtest.New(t, fx.Supply(cfg), module, fx.Populate(&h))
	app.RequireStart()
	return path, h, app
}

func TestModuleWatchesPolicy(t *testing.T) {
	path, h, app := startPolicyApp(t, Module)
	defer app.RequireStop()

	require.NoError(t, os.WriteFile(path, []byte("enforcement:\n  mode: strict\n"), 0o600))
	require.Eventually(t, func() bool { return h.Get().Strict() }, 5*time.Second, 20*time.Millisecond)
}

func TestHolderModuleDoesNotWatch(t *testing.T) {
	path, h, app := startPolicyApp(t, HolderModule)
	defer app.RequireStop()

	require.NoError(t, os.WriteFile(path, []byte("enforcement:\n  mode: strict\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	require.False(t, h.Get().Strict())
}
