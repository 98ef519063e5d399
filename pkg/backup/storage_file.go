package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStorage implements Storage on the local filesystem.
type FileStorage struct {
	basePath string
}

func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &FileStorage{
		basePath: basePath,
	}, nil
}

func (fs *FileStorage) Save(ctx context.Context, name string, data io.Reader) error {
	filePath := filepath.Join(fs.basePath, name)

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write snapshot data: %w", err)
	}

	return nil
}

func (fs *FileStorage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	filePath := filepath.Join(fs.basePath, name)

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	return file, nil
}

func (fs *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	return files, nil
}

func (fs *FileStorage) Delete(ctx context.Context, name string) error {
	filePath := filepath.Join(fs.basePath, name)
	return os.Remove(filePath)
}
