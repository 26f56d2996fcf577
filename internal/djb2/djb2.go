// Package djb2 implements Bernstein's djb2 string hash and the generator for
// the static-file extension table.
package djb2

import (
	"fmt"
	"io"
)

// Extensions are the file extensions served statically, plus "py" and "".
var Extensions = []string{
	"css", "js", "html", "png", "webp", "jpg", "jpeg", "svg", "epub", "mobi", "mp4", "ttf",
	"py", "",
}

// Sum computes hash*33 + c over the bytes of s, starting from 5381.
func Sum(s string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(s); i++ {
		hash = (hash << 5) + hash + uint32(s[i])
	}
	return hash
}

// WriteDefines writes one `#define hash_djb2_<name> <hash>` line per name.
func WriteDefines(w io.Writer, names []string) error {
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "#define hash_djb2_%s %d\n", name, Sum(name)); err != nil {
			return err
		}
	}
	return nil
}
