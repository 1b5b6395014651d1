package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "liquidity-maker-go/config"
)

const liquidityYAML = `
env: dev
pair: ADM/USDT
store:
  inMemory: true
liquidity:
  enabled: true
  buyQuoteAmount: %s
  sellBaseAmount: 1000
  spreadPercent: 2
`

func writeConfig(t *testing.T, path, buyQuote string) {
	t.Helper()
	content := []byte(fmt.Sprintf(liquidityYAML, buyQuote))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

type recordingApplier struct {
	mu   sync.Mutex
	seen []appconfig.LiquidityConfig
}

func (r *recordingApplier) Apply(cfg appconfig.AppConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, cfg.Liquidity)
	return nil
}

func (r *recordingApplier) last() (appconfig.LiquidityConfig, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return appconfig.LiquidityConfig{}, 0
	}
	return r.seen[len(r.seen)-1], len(r.seen)
}

func TestHotReloaderAppliesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "100")

	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: true}, nil)
	require.NoError(t, err)
	defer reloader.Stop()

	applier := &recordingApplier{}
	reloader.RegisterApplier("liquidity", applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reloader.Start(ctx))

	writeConfig(t, path, "250")

	require.Eventually(t, func() bool {
		cfg, n := applier.last()
		return n > 0 && cfg.BuyQuoteAmount == 250
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, reloader.GetLastReloadTime().IsZero())
}

func TestHotReloaderKeepsPreviousOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "-5")

	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: false}, nil)
	require.NoError(t, err)
	defer reloader.Stop()

	applier := &recordingApplier{}
	reloader.RegisterApplier("liquidity", applier)

	assert.False(t, reloader.Reload())
	_, n := applier.last()
	assert.Zero(t, n)
	assert.Zero(t, reloader.Reloads())
}

func TestHotReloaderCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "100")

	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: false, CooldownTime: time.Minute}, nil)
	require.NoError(t, err)
	defer reloader.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reloader.now = func() time.Time { return now }

	applier := &recordingApplier{}
	reloader.RegisterApplier("liquidity", applier)

	assert.True(t, reloader.Reload())
	now = now.Add(30 * time.Second)
	assert.False(t, reloader.Reload())
	now = now.Add(31 * time.Second)
	assert.True(t, reloader.Reload())
	assert.Equal(t, 2, reloader.Reloads())
}

func TestHotReloaderApplierErrorDoesNotBlockOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "100")

	reloader, err := NewHotReloader(path, HotReloadConfig{}, nil)
	require.NoError(t, err)
	defer reloader.Stop()

	applier := &recordingApplier{}
	reloader.RegisterApplier("a_failing", ApplierFunc(func(appconfig.AppConfig) error {
		return errors.New("boom")
	}))
	reloader.RegisterApplier("liquidity", applier)

	assert.True(t, reloader.Reload())
	cfg, n := applier.last()
	assert.Equal(t, 1, n)
	assert.Equal(t, 100.0, cfg.BuyQuoteAmount)
}
