package scheme

// POSIX file-mode bits fstat composes onto the mount's configured
// permission bits, adapted from the teacher's flags.go (S_IF*/S_IRWX*
// constants; the MS_* mount-syscall flags that file also carried don't
// apply here — FAT has no analogous mount-option bitmask to report).
const (
	modeIFDIR = 1 << 14
	modeIFREG = 1 << 15
)

// fileMode composes the type bit (directory vs. regular file) onto perm,
// the permission bits configured at mount time.
func fileMode(perm uint32, isDir bool) uint32 {
	if isDir {
		return perm | modeIFDIR
	}
	return perm | modeIFREG
}
