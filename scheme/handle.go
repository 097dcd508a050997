package scheme

import (
	"sync"

	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/file"
)

// handle is one open file or directory: the scheme boundary only ever sees
// its numeric id, returned from Open and threaded through every other call.
// Each handle has its own offset and lock, distinct from the volume-wide
// lock that individual Volume operations already take.
type handle struct {
	mu sync.Mutex

	path   string
	flags  OpenFlag
	offset uint32

	parent *directory.Directory
	entry  directory.Entry
	file   *file.File // nil when the handle is a directory
}

func (h *handle) isDirectory() bool {
	return h.file == nil
}
