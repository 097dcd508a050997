package scheme

// Stat is the platform-independent shape fstat fills in: size, first
// cluster (standing in for inode), and the mount's owner/mode, since FAT
// itself carries no permission bits (spec §6).
type Stat struct {
	Size        uint32
	Inode       uint32
	Mode        uint32
	UID, GID    uint32
	IsDirectory bool
}

// FSStat is what fstatvfs fills in: Blocks is the volume's highest cluster
// number (cluster count + 1) and BlocksFree its free cluster count, standing
// in for f_blocks/f_bfree, plus the cluster size.
type FSStat struct {
	Blocks      uint32
	BlocksFree  uint32
	ClusterSize uint32
}
