package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolgated/pkg/models"
)

func newTestRunner() *Runner {
	return New(Config{
		PortRangeStart: 21500,
		PortRangeEnd:   21600,
		MaxRestarts:    3,
		RestartWindow:  time.Minute,
		RingBufferKB:   16,
	})
}

func TestInstallAssignsPortFromRange(t *testing.T) {
	r := newTestRunner()
	handle, endpoint, port, err := r.Install(context.Background(), InstallConfig{
		Command:       "sh",
		Args:          []string{"-c", "sleep 5"},
		RestartPolicy: models.RestartNever,
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle)
	require.GreaterOrEqual(t, port, 21500)
	require.Less(t, port, 21600)
	require.Contains(t, endpoint, "127.0.0.1:")

	ok := r.Stop(handle)
	require.True(t, ok)
}

func TestInstallRejectsAlreadyAssignedExplicitPort(t *testing.T) {
	r := newTestRunner()
	_, _, port, err := r.Install(context.Background(), InstallConfig{Command: "sh", Args: []string{"-c", "sleep 5"}, RestartPolicy: models.RestartNever})
	require.NoError(t, err)

	_, _, _, err = r.Install(context.Background(), InstallConfig{Command: "sh", Args: []string{"-c", "sleep 5"}, Port: port})
	require.Error(t, err)

	r.CleanupAll()
}

func TestStatusReflectsRunningProcess(t *testing.T) {
	r := newTestRunner()
	handle, _, _, err := r.Install(context.Background(), InstallConfig{
		Command:       "sh",
		Args:          []string{"-c", "echo hello; sleep 5"},
		RestartPolicy: models.RestartNever,
	})
	require.NoError(t, err)
	defer r.CleanupAll()

	time.Sleep(50 * time.Millisecond)
	snapshot, ok := r.Status(handle)
	require.True(t, ok)
	require.Equal(t, models.ProcessRunning, snapshot.Status)
	require.NotZero(t, snapshot.PID)
}

func TestStopMarksExitedNotCrashed(t *testing.T) {
	r := newTestRunner()
	handle, _, _, err := r.Install(context.Background(), InstallConfig{
		Command:       "sh",
		Args:          []string{"-c", "sleep 5"},
		RestartPolicy: models.RestartAlways,
	})
	require.NoError(t, err)

	ok := r.Stop(handle)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		snapshot, exists := r.Status(handle)
		return exists && snapshot.Status == models.ProcessExited
	}, time.Second, 10*time.Millisecond, "Stop leaves an Exited record behind for inspection")

	snapshot, exists := r.Status(handle)
	require.True(t, exists)
	require.Equal(t, models.ProcessExited, snapshot.Status)
}

func TestPingFailsAgainstClosedPort(t *testing.T) {
	err := Ping(context.Background(), "127.0.0.1:1", 50*time.Millisecond)
	require.Error(t, err)
}
