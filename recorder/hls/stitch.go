package hls

import (
	"fmt"
	"io"
	"os"
)

// removeAndDiscard deletes a corrupted segment that has no predecessor to
// stitch onto (spec §4.6 step c, first bullet).
func removeAndDiscard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hls: discard corrupted segment: %w", err)
	}
	return nil
}

// appendFileBytes concatenates src's bytes onto the end of dst, then
// deletes src (spec §4.6 step c, second bullet: "the caller has already
// physically concatenated bytes on disk into the previous segment file").
func appendFileBytes(dstPath, srcPath string) error {
	dst, err := os.OpenFile(dstPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("hls: open last segment for append: %w", err)
	}
	defer dst.Close()

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("hls: open corrupted segment: %w", err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("hls: append corrupted segment bytes: %w", err)
	}

	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("hls: remove stitched segment file: %w", err)
	}
	return nil
}
