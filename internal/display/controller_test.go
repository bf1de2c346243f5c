package display

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
)

// shPlayer builds a PlayerConfig whose "stream" and "viewer" binaries are
// both /bin/sh, so tests exercise real process spawn/signal/reap behavior
// without depending on mpv being installed.
func shPlayer(grace time.Duration) config.PlayerConfig {
	return config.PlayerConfig{
		StreamBinary:  "sh",
		StreamFlags:   []string{"-c", "sleep 5"},
		ViewerBinary:  "sh",
		ViewerFlags:   []string{"-c", "sleep 5"},
		GraceDuration: grace,
	}
}

func testDisplayConfig() config.DisplayConfig {
	return config.DisplayConfig{
		HoldingImagePath: "/tmp/holding.png",
		FailureImagePath: "/tmp/failure.png",
	}
}

func TestReconcileNoneToXSpawns(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)
	defer c.Shutdown()

	event := c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	require.Equal(t, ActionSpawned, event.Action)

	mode, ok := c.CurrentMode()
	require.True(t, ok)
	require.Equal(t, Mode{Kind: KindHolding}, mode)
}

func TestReconcileXToXIsNoOp(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)
	defer c.Shutdown()

	first := c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	require.Equal(t, ActionSpawned, first.Action)

	second := c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	require.Equal(t, ActionNone, second.Action)
}

func TestReconcileXToYTerminatesThenSpawns(t *testing.T) {
	// Use a child that exits promptly on SIGINT so this test doesn't pay the
	// full grace period: sh with no trap forwards SIGINT as a normal exit.
	player := shPlayer(200 * time.Millisecond)
	player.ViewerFlags = []string{"-c", "sleep 5"}
	c := NewController(player, testDisplayConfig(), nil)
	defer c.Shutdown()

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	event := c.Reconcile(context.Background(), Mode{Kind: KindFailure})

	require.Equal(t, ActionRespawned, event.Action)
	require.False(t, event.ForcedKill)

	mode, ok := c.CurrentMode()
	require.True(t, ok)
	require.Equal(t, Mode{Kind: KindFailure}, mode)
}

func TestReconcileForceKillsUnresponsiveChild(t *testing.T) {
	player := shPlayer(50 * time.Millisecond)
	player.ViewerFlags = []string{"-c", "trap '' INT; sleep 5"}
	c := NewController(player, testDisplayConfig(), nil)
	defer c.Shutdown()

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	event := c.Reconcile(context.Background(), Mode{Kind: KindFailure})

	require.Equal(t, ActionRespawned, event.Action)
	require.True(t, event.ForcedKill)
}

func TestReconcileStreamModeAppendsURL(t *testing.T) {
	player := shPlayer(50 * time.Millisecond)
	c := NewController(player, testDisplayConfig(), nil)
	defer c.Shutdown()

	event := c.Reconcile(context.Background(), Mode{Kind: KindStream, URL: "https://live/1.m3u8"})
	require.Equal(t, ActionSpawned, event.Action)

	cmd, err := c.buildCommand(Mode{Kind: KindStream, URL: "https://live/1.m3u8"})
	require.NoError(t, err)
	require.Equal(t, "https://live/1.m3u8", cmd.Args[len(cmd.Args)-1])
}

func TestReconcileSpawnFailureReportsAction(t *testing.T) {
	player := shPlayer(50 * time.Millisecond)
	player.StreamBinary = "/nonexistent/binary-does-not-exist"
	c := NewController(player, testDisplayConfig(), nil)
	defer c.Shutdown()

	event := c.Reconcile(context.Background(), Mode{Kind: KindStream, URL: "u"})
	require.Equal(t, ActionSpawnFailed, event.Action)
	require.Error(t, event.Err)

	_, ok := c.CurrentMode()
	require.False(t, ok)
}

func TestReapIfExitedDetectsCrash(t *testing.T) {
	player := shPlayer(50 * time.Millisecond)
	player.ViewerFlags = []string{"-c", "exit 1"}
	c := NewController(player, testDisplayConfig(), nil)
	defer c.Shutdown()

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})

	require.Eventually(t, func() bool {
		crashed, mode, _ := c.ReapIfExited()
		if crashed {
			require.Equal(t, Mode{Kind: KindHolding}, mode)
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	_, ok := c.CurrentMode()
	require.False(t, ok)
}

func TestReapIfExitedNoOpWhileChildRunning(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)
	defer c.Shutdown()

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})

	crashed, _, err := c.ReapIfExited()
	require.False(t, crashed)
	require.NoError(t, err)
}

func TestReapIfExitedNoOpWhenNoChild(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)

	crashed, _, err := c.ReapIfExited()
	require.False(t, crashed)
	require.NoError(t, err)
}

func TestShutdownTerminatesRunningChild(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	c.Shutdown()

	_, ok := c.CurrentMode()
	require.False(t, ok)
}

func TestShutdownOnNoChildIsNoOp(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)
	c.Shutdown()

	_, ok := c.CurrentMode()
	require.False(t, ok)
}

func TestShutdownLeavesNoTrackedResources(t *testing.T) {
	c := NewController(shPlayer(50*time.Millisecond), testDisplayConfig(), nil)

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})
	require.NotEmpty(t, c.LeakedResources())

	c.Shutdown()
	require.Empty(t, c.LeakedResources())
}

func TestReapIfExitedClearsTrackedResource(t *testing.T) {
	player := shPlayer(50 * time.Millisecond)
	player.ViewerFlags = []string{"-c", "exit 1"}
	c := NewController(player, testDisplayConfig(), nil)
	defer c.Shutdown()

	c.Reconcile(context.Background(), Mode{Kind: KindHolding})

	require.Eventually(t, func() bool {
		crashed, _, _ := c.ReapIfExited()
		return crashed
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, c.LeakedResources())
}
