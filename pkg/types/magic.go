package types

import (
	"fmt"

	slserrors "github.com/sls-project/sls/pkg/errors"
)

// Magic tags every persisted sub-record. CheckMagic reports a mismatch
// as a corruption error; see CheckMagic for which loaders check it.
type Magic uint32

const (
	MagicDump       Magic = 0x534c5300 // top-level snapshot descriptor
	MagicProcess    Magic = 0x534c5301
	MagicThread     Magic = 0x534c5302
	MagicVMSpace    Magic = 0x534c5303
	MagicRegion     Magic = 0x534c5304
	MagicFile       Magic = 0x534c5305
	MagicFileTable  Magic = 0x534c5306
	MagicSuperblock Magic = 0x534c5342 // "SLSB"
	MagicInode      Magic = 0x534c5349 // "SLSI"
	MagicBTreeNode  Magic = 0x534c5354 // "SLST"
	MagicWALHeader  Magic = 0x534c5357 // "SLSW"
)

// CheckMagic compares a decoded magic against its constant. Two loaders
// call it: the WAL header load, which fails with the corruption error,
// and the superblock slot decode, which treats a mismatch as an unused
// slot and skips it. The other sub-records carry their magic but are not
// checked on load.
func CheckMagic(field string, got, want Magic) error {
	if got != want {
		return slserrors.Corruption(fmt.Sprintf("bad magic for %s: got %#x want %#x", field, got, want))
	}
	return nil
}
