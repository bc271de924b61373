package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrNoResolvers = errors.New("secrets: no resolvers configured")

// FileResolver reads a secret from <root>/<ref>, mirroring the teacher's
// `os.ReadFile(mustEnv("APP_PRIVATE_KEY_FILE"))` pattern generalized to a
// configurable root plus an arbitrary ref name (spec §6's
// secret-root-path).
type FileResolver struct {
	Root string
}

func NewFileResolver(root string) *FileResolver {
	return &FileResolver{Root: root}
}

func (f *FileResolver) Resolve(_ context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(ref)
	if filepath.IsAbs(clean) || clean == ".." || filepathHasParentTraversal(clean) {
		return nil, fmt.Errorf("secrets: ref %q escapes secret root", ref)
	}
	path := filepath.Join(f.Root, clean)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: file resolver: %w", err)
	}
	return data, nil
}

func filepathHasParentTraversal(clean string) bool {
	for _, part := range filepathSplit(clean) {
		if part == ".." {
			return true
		}
	}
	return false
}

func filepathSplit(p string) []string {
	var parts []string
	for {
		dir, file := filepath.Split(p)
		if file != "" {
			parts = append(parts, file)
		}
		if dir == "" || dir == p {
			break
		}
		p = filepath.Clean(dir)
		if p == "." || p == string(filepath.Separator) {
			break
		}
	}
	return parts
}
