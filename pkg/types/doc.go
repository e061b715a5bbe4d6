/*
Package types defines the core data structures shared by every component
of the checkpoint/restore engine.

This package contains the domain model used by capture, restore, the
object store, the WAL and the orchestrator: partitions, epochs, the
in-memory snapshot descriptor and its sub-records, saved pages, and the
on-disk superblock/inode/B-tree node shapes.

# Architecture

The types package is the foundation everything else builds on. It
defines:

  - Partition identity and configuration (OID, PartitionConfig)
  - Epoch numbering and the EpochInval sentinel
  - Snapshot descriptor and its sub-records (process, thread,
    address-space, region, file-descriptor table)
  - The saved-page unit that flows through the writer pool
  - On-disk object store structures: superblock slot, inode, B-tree
    node, extent

# Core Types

Partition & Epoch:
  - Partition: a logical checkpoint container identified by OID
  - PartitionConfig: target backend, mode, period, flags, amplification
  - Epoch: monotonically increasing per-partition counter

Snapshot Descriptor:
  - SnapshotDescriptor: magic-tagged top-level record
  - ProcessDescriptor: PID, thread count, signal-action table
  - ThreadDescriptor: register files, FS base, signal masks, thread id
  - AddressSpaceDescriptor: swap/text/data/stack sizes, region count
  - RegionDescriptor: [start, end), offset, protections, eflags
  - FileDescriptorTable / FileDescriptor: cwd/root, umask, per-fd entry

Saved Pages:
  - SavedPage: (vaddr, page bytes) tagged with region and epoch

Object Store:
  - SuperblockSlot: one ring entry; epoch decides authority
  - Inode: pid/inumber, mode, uid/gid, record type, extent-tree root
  - BTreeNode: generic node shape for allocator/inode/extent trees
  - Extent: (offset, size, epoch) disk pointer
  - DirEntry: packed (name, type, inode) tuple

# Magic Tagging

Every persisted sub-record carries a distinct 32-bit Magic (magic.go).
CheckMagic turns a mismatch into a pkg/errors.KindCorruption error; it
is called when loading a WAL header (the load fails) and when decoding
a superblock slot (the slot is skipped as unused).

# Design Patterns

Enumeration Pattern:

	Enums are small int-backed types, not typed strings (BackendKind and
	Mode also have a String() method); they are stored as their integer
	values, both in gob encodings and in the registry's JSON records:
	  type Mode int
	  const ( ModeFull Mode = iota; ModeDelta )

Ownership:

	A Partition owns its Epoch counter and any attached processes'
	snapshot descriptors until persisted. A SnapshotDescriptor owns its
	thread/region/file sub-record slices until it is fully written or
	discarded on error. SavedPage ownership passes from the writer pool
	queue to the Store to the Page Index across a checkpoint's lifetime.

# Integration Points

This package is imported by:

  - pkg/capture and pkg/restore: build and consume SnapshotDescriptor
  - pkg/store: persists SuperblockSlot, Inode, BTreeNode, Extent
  - pkg/wal: replays records addressed by the vaddr fields here
  - pkg/writerpool: drains SavedPage units
  - pkg/pageindex: composes SavedPage by vaddr across epochs
  - pkg/orchestrator: holds Partition state and drives the state machine
*/
package types
