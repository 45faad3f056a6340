package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
)

func UnpackTarGz(tarGzFile string, dstFolder string) error {
	cmd := exec.Command("tar", "-xzf", tarGzFile, "-C", dstFolder)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// IsTarGz sniffs the first bytes of file for the gzip magic.
func IsTarGz(file string) bool {
	fileHandle, err := os.Open(file)
	if err != nil {
		return false
	}
	defer fileHandle.Close()

	buffer := make([]byte, 2)
	if _, err := io.ReadFull(fileHandle, buffer); err != nil {
		return false
	}
	return buffer[0] == 0x1f && buffer[1] == 0x8b
}
