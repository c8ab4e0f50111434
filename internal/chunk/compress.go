package chunk

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// archivePath returns the path of a sealed chunk's compressed cold-storage
// copy, kept alongside the live bbolt file.
func archivePath(branchDir string, id ID) string {
	return chunkFilePath(branchDir, id) + ".zst"
}

// archiveSealed writes a zstd-compressed copy of a just-sealed chunk file
// for at-rest compression. The live bbolt file remains the source of
// truth for reads; the archive exists purely to shrink cold storage, so a
// failure here is logged by the caller but never fails the seal itself.
func archiveSealed(branchDir string, id ID) error {
	src, err := os.Open(chunkFilePath(branchDir, id))
	if err != nil {
		return fmt.Errorf("chunk: open sealed file for archive: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(archivePath(branchDir, id))
	if err != nil {
		return fmt.Errorf("chunk: create archive: %w", err)
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		dst.Close()
		return fmt.Errorf("chunk: new zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return fmt.Errorf("chunk: compress archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("chunk: close zstd writer: %w", err)
	}
	return dst.Close()
}
