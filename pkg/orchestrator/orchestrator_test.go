package orchestrator

import (
	"testing"

	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestHasNonReadOnlyVolume(t *testing.T) {
	assert.False(t, hasNonReadOnlyVolume(&types.Snapshot{}))

	readOnlyOnly := &types.Snapshot{Volumes: []*types.Volume{{Mode: types.AccessModeRO}}}
	assert.False(t, hasNonReadOnlyVolume(readOnlyOnly))

	mixed := &types.Snapshot{Volumes: []*types.Volume{
		{Mode: types.AccessModeRO},
		{Mode: types.AccessModeRW},
	}}
	assert.True(t, hasNonReadOnlyVolume(mixed))
}

func TestHasHostPort(t *testing.T) {
	assert.False(t, hasHostPort(&types.Snapshot{}))

	httpOnly := &types.Snapshot{Ports: []*types.PortMapping{{ForwardedPort: 8080}}}
	assert.False(t, hasHostPort(httpOnly))

	hostBound := &types.Snapshot{Ports: []*types.PortMapping{
		{ForwardedPort: 8080},
		{ForwardedPort: 5432, HostPort: 5432},
	}}
	assert.True(t, hasHostPort(hostBound))
}

func TestVolumeAndConfigName_Deterministic(t *testing.T) {
	assert.Equal(t, "warren-svc-1-data", VolumeName("svc-1", "data"))
	assert.Equal(t, "warren-svc-1-app-config", ConfigName("svc-1", "app-config"))
	assert.Equal(t, VolumeName("svc-1", "data"), volumeName("svc-1", "data"))
	assert.Equal(t, ConfigName("svc-1", "app-config"), configName("svc-1", "app-config"))
}
