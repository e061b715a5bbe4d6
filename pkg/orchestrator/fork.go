package orchestrator

import (
	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/types"
)

// FFork implements §6's ffork operation: "spawn a checkpoint-capable
// replica of open fd." This engine has no primitive for dup-and-attach-
// checkpoint-hook on an arbitrary file descriptor (that requires kernel
// cooperation the original's ffork had and this engine's HostProcess
// abstraction does not expose), so FFork is scoped to what is
// buildable in userspace: it clones the partition owning fd's checkpoint
// stream into a brand-new, detached partition with a copy of the whole
// PartitionConfig (target kind and path, mode, period, flags and
// amplification), ready for a caller to attach a fresh pid to. The clone
// has no attached pids and no inherited manifest; its epoch starts at 0
// for file and PM targets, while a BackendStore clone reopens the same
// store path and reports that store's epoch. It is a replica of the
// partition's *configuration*, not a live clone of its last snapshot.
func (o *Orchestrator) FFork(oid types.OID, fd int) (types.OID, error) {
	entry, err := o.get(oid)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	cfg := entry.partition.Config
	entry.mu.Unlock()

	if fd < 0 {
		return 0, errors.InvalidArgument("orchestrator: ffork: negative file descriptor")
	}

	return o.PartAdd(cfg)
}
