package resolve

import (
	"io/fs"
	"os"
)

// osFS returns an fs.FS rooted at dir (or the current directory if dir
// is empty), the root doublestar.Glob expands Group file patterns
// against.
func osFS(dir string) fs.FS {
	if dir == "" {
		dir = "."
	}
	return os.DirFS(dir)
}
