package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadIdentity returns the client id stored in path, creating the file with
// a fresh random id on first use.
func LoadIdentity(path string) (string, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		cid := strings.TrimSpace(string(b))
		if cid == "" {
			return "", fmt.Errorf("identity file %s is empty", path)
		}
		return cid, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("read identity: %w", err)
	}

	cid := uuid.NewString()
	if err := os.WriteFile(path, []byte(cid+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	return cid, nil
}
