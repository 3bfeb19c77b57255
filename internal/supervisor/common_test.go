package supervisor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsPlatformSupervisor(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestGetProcessInfoGopsutil_CurrentProcess(t *testing.T) {
	info, err := getProcessInfoGopsutil(os.Getpid())
	require.NoError(t, err)
	require.NotZero(t, info.PID)
}
