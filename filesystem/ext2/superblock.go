package ext2

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	magicExt2 = 0xEF53

	sbOffset     = 1024
	sbSize       = 1024
	rootInodeNum = 2

	defaultInodeStructSize   = 128
	defaultFirstNonReserved  = 11
	superblockExtendedOffset = 84
)

// superblock mirrors the on-disk ext2 superblock: the base 80-byte region
// present at every revision, plus the "dynamic" extension fields valid
// when VersionMajor >= 1. Layout grounded on include/ext2.h's struct
// ext2_sb / struct ext2_extsb, byte-exact little-endian offsets matching
// a real ext2 superblock.
type superblock struct {
	InodeCount      uint32
	BlockCount      uint32
	ReservedBlocks  uint32
	FreeBlockCount  uint32
	FreeInodeCount  uint32
	FirstDataBlock  uint32
	BlockSizeLog    uint32
	FragSizeLog     uint32
	BlocksPerGroup  uint32
	FragsPerGroup   uint32
	InodesPerGroup  uint32
	MTime           uint32
	WTime           uint32
	MountCount      uint16
	MaxMountCount   uint16
	Magic           uint16
	State           uint16
	Errors          uint16
	MinorRevLevel   uint16
	LastCheck       uint32
	CheckInterval   uint32
	CreatorOS       uint32
	VersionMajor    uint32
	DefResUID       uint16
	DefResGID       uint16

	// Extended (version_major >= 1) fields.
	FirstNonReserved uint32
	InodeStructSize  uint16
	BlockGroupNr     uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureROCompat  uint32
	UUID             [16]byte
	VolumeName       [16]byte
}

func (sb *superblock) blockSize() uint32 { return 1024 << sb.BlockSizeLog }

func (sb *superblock) blockGroupCount() uint32 {
	return ceilDiv(sb.BlockCount, sb.BlocksPerGroup)
}

func readSuperblock(bd *device) (*superblock, error) {
	buf := make([]byte, sbSize)
	if err := bd.readAt(buf, sbOffset); err != nil {
		return nil, err
	}
	sb := &superblock{}
	le := binary.LittleEndian
	sb.InodeCount = le.Uint32(buf[0:])
	sb.BlockCount = le.Uint32(buf[4:])
	sb.ReservedBlocks = le.Uint32(buf[8:])
	sb.FreeBlockCount = le.Uint32(buf[12:])
	sb.FreeInodeCount = le.Uint32(buf[16:])
	sb.FirstDataBlock = le.Uint32(buf[20:])
	sb.BlockSizeLog = le.Uint32(buf[24:])
	sb.FragSizeLog = le.Uint32(buf[28:])
	sb.BlocksPerGroup = le.Uint32(buf[32:])
	sb.FragsPerGroup = le.Uint32(buf[36:])
	sb.InodesPerGroup = le.Uint32(buf[40:])
	sb.MTime = le.Uint32(buf[44:])
	sb.WTime = le.Uint32(buf[48:])
	sb.MountCount = le.Uint16(buf[52:])
	sb.MaxMountCount = le.Uint16(buf[54:])
	sb.Magic = le.Uint16(buf[56:])
	sb.State = le.Uint16(buf[58:])
	sb.Errors = le.Uint16(buf[60:])
	sb.MinorRevLevel = le.Uint16(buf[62:])
	sb.LastCheck = le.Uint32(buf[64:])
	sb.CheckInterval = le.Uint32(buf[68:])
	sb.CreatorOS = le.Uint32(buf[72:])
	sb.VersionMajor = le.Uint32(buf[76:])
	sb.DefResUID = le.Uint16(buf[80:])
	sb.DefResGID = le.Uint16(buf[82:])

	if sb.Magic != magicExt2 {
		return nil, fmt.Errorf("mount: bad superblock magic: %w", unix.EINVAL)
	}

	if sb.VersionMajor == 0 {
		sb.InodeStructSize = defaultInodeStructSize
		sb.FirstNonReserved = defaultFirstNonReserved
	} else {
		o := superblockExtendedOffset
		sb.FirstNonReserved = le.Uint32(buf[o:])
		sb.InodeStructSize = le.Uint16(buf[o+4:])
		sb.BlockGroupNr = le.Uint16(buf[o+6:])
		sb.FeatureCompat = le.Uint32(buf[o+8:])
		sb.FeatureIncompat = le.Uint32(buf[o+12:])
		sb.FeatureROCompat = le.Uint32(buf[o+16:])
		copy(sb.UUID[:], buf[o+20:o+36])
		copy(sb.VolumeName[:], buf[o+36:o+52])
	}

	return sb, nil
}

// write flushes the base and (if dynamic) extended superblock fields back
// to their fixed on-disk offsets.
func (sb *superblock) write(bd *device) error {
	buf := make([]byte, sbSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], sb.InodeCount)
	le.PutUint32(buf[4:], sb.BlockCount)
	le.PutUint32(buf[8:], sb.ReservedBlocks)
	le.PutUint32(buf[12:], sb.FreeBlockCount)
	le.PutUint32(buf[16:], sb.FreeInodeCount)
	le.PutUint32(buf[20:], sb.FirstDataBlock)
	le.PutUint32(buf[24:], sb.BlockSizeLog)
	le.PutUint32(buf[28:], sb.FragSizeLog)
	le.PutUint32(buf[32:], sb.BlocksPerGroup)
	le.PutUint32(buf[36:], sb.FragsPerGroup)
	le.PutUint32(buf[40:], sb.InodesPerGroup)
	le.PutUint32(buf[44:], sb.MTime)
	le.PutUint32(buf[48:], sb.WTime)
	le.PutUint16(buf[52:], sb.MountCount)
	le.PutUint16(buf[54:], sb.MaxMountCount)
	le.PutUint16(buf[56:], sb.Magic)
	le.PutUint16(buf[58:], sb.State)
	le.PutUint16(buf[60:], sb.Errors)
	le.PutUint16(buf[62:], sb.MinorRevLevel)
	le.PutUint32(buf[64:], sb.LastCheck)
	le.PutUint32(buf[68:], sb.CheckInterval)
	le.PutUint32(buf[72:], sb.CreatorOS)
	le.PutUint32(buf[76:], sb.VersionMajor)
	le.PutUint16(buf[80:], sb.DefResUID)
	le.PutUint16(buf[82:], sb.DefResGID)

	if sb.VersionMajor != 0 {
		o := superblockExtendedOffset
		le.PutUint32(buf[o:], sb.FirstNonReserved)
		le.PutUint16(buf[o+4:], sb.InodeStructSize)
		le.PutUint16(buf[o+6:], sb.BlockGroupNr)
		le.PutUint32(buf[o+8:], sb.FeatureCompat)
		le.PutUint32(buf[o+12:], sb.FeatureIncompat)
		le.PutUint32(buf[o+16:], sb.FeatureROCompat)
		copy(buf[o+20:o+36], sb.UUID[:])
		copy(buf[o+36:o+52], sb.VolumeName[:])
	}

	return bd.writeAt(buf, sbOffset)
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
