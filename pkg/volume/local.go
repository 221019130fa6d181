package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/warren/pkg/types"
)

const (
	// DefaultVolumesPath is the base directory for local volumes
	DefaultVolumesPath = "/var/lib/warren/volumes"
)

// VolumeDriver defines the interface for volume drivers
type VolumeDriver interface {
	// Create creates a new volume
	Create(volume *types.Volume) error

	// Delete removes a volume
	Delete(volume *types.Volume) error

	// Mount returns the host path for mounting to containers
	Mount(volume *types.Volume) (string, error)

	// Unmount performs cleanup after unmounting
	Unmount(volume *types.Volume) error

	// GetPath returns the host path for a volume
	GetPath(volume *types.Volume) string
}

// LocalDriver implements a simple local volume driver
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a new local volume driver
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &LocalDriver{
		basePath: basePath,
	}, nil
}

// Create creates a new local volume directory
func (d *LocalDriver) Create(volume *types.Volume) error {
	volumePath := d.GetPath(volume)

	// Create the volume directory
	if err := os.MkdirAll(volumePath, 0755); err != nil {
		return fmt.Errorf("failed to create volume directory: %w", err)
	}

	return nil
}

// Delete removes a local volume directory
func (d *LocalDriver) Delete(volume *types.Volume) error {
	volumePath := d.GetPath(volume)

	// Check if volume exists
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		return nil // Already deleted
	}

	// Remove the volume directory and all contents
	if err := os.RemoveAll(volumePath); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}

	return nil
}

// Mount returns the host path for bind mounting to containers
func (d *LocalDriver) Mount(volume *types.Volume) (string, error) {
	volumePath := d.GetPath(volume)

	// Verify volume exists
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		return "", fmt.Errorf("volume directory does not exist: %s", volumePath)
	}

	return volumePath, nil
}

// Unmount performs cleanup (no-op for local driver)
func (d *LocalDriver) Unmount(volume *types.Volume) error {
	// Local driver doesn't need to do anything on unmount
	// The directory stays on disk
	return nil
}

// GetPath returns the host path for a volume. A volume declared with an
// explicit HostPath (a bind mount, spec.md §3) uses that path directly;
// otherwise it gets a managed directory keyed by volume id.
func (d *LocalDriver) GetPath(volume *types.Volume) string {
	if volume.HostPath != "" {
		return volume.HostPath
	}
	return filepath.Join(d.basePath, volume.ID)
}

// VolumeManager manages local volume lifecycle. spec.md's Volume has no
// pluggable-driver concept (every volume is either a managed local directory
// or an explicit host bind), so there is exactly one driver here rather
// than a name-keyed registry of them.
type VolumeManager struct {
	driver *LocalDriver
}

// NewVolumeManager creates a new volume manager.
func NewVolumeManager() (*VolumeManager, error) {
	driver, err := NewLocalDriver("")
	if err != nil {
		return nil, fmt.Errorf("failed to create local driver: %w", err)
	}

	return &VolumeManager{driver: driver}, nil
}

// CreateVolume creates a volume's backing directory. A bind-mounted volume
// (HostPath set) is expected to already exist on the host and is left alone.
func (vm *VolumeManager) CreateVolume(volume *types.Volume) error {
	if volume.HostPath != "" {
		return nil
	}
	return vm.driver.Create(volume)
}

// DeleteVolume removes a volume's managed directory. Bind-mounted volumes are
// owned by the host, not the control plane, and are never deleted here.
func (vm *VolumeManager) DeleteVolume(volume *types.Volume) error {
	if volume.HostPath != "" {
		return nil
	}
	return vm.driver.Delete(volume)
}

// MountVolume returns the host path to bind into a container for volume.
func (vm *VolumeManager) MountVolume(volume *types.Volume) (string, error) {
	return vm.driver.Mount(volume)
}

// UnmountVolume performs cleanup after unmounting.
func (vm *VolumeManager) UnmountVolume(volume *types.Volume) error {
	return vm.driver.Unmount(volume)
}
