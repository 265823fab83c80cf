package transport

import "os"

func archiveBytesFromPath(path string) ([]byte, error) {
	return os.ReadFile(path)
}
