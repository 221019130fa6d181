/*
Package volume manages the on-disk backing storage for service volumes
(spec.md §3's Volume: a named persistent mount owned by exactly one
service).

There is a single node and a single driver here — a pluggable,
node-affine, multi-driver design doesn't apply (multi-node placement is an
explicit non-goal, spec.md §9). A Volume is either:

  - managed: LocalDriver creates and owns a directory under
    /var/lib/warren/volumes/{volume-id}; deleting the volume deletes the
    directory.
  - a host bind: Volume.HostPath names an existing host path the control
    plane never creates or deletes, only mounts into the service's tasks.

# Lifecycle

	CreateVolume  - mkdir the managed directory (no-op for a host bind)
	MountVolume   - resolve the host path to bind into a container
	UnmountVolume - no-op (the directory/bind persists after unmount)
	DeleteVolume  - rm -rf the managed directory (no-op for a host bind)

Volume has a DeploymentID field for the owning deployment, but nothing in
this tree sets or reassigns it, and this package does not read it.
*/
package volume
