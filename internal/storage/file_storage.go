package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Security errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrFileNotFound  = errors.New("file not found")
	ErrFileTooLarge  = errors.New("file exceeds size limit")
)

// MaxRawSize is the largest message source kept in the archive (25 MB)
const MaxRawSize = 25 * 1024 * 1024

// rawExt is the extension of archived message sources
const rawExt = ".eml"

// RawStore keeps the RFC 822 source of stored messages
type RawStore interface {
	// Save writes content for accountID and returns its relative path
	Save(accountID uint, content io.Reader) (string, error)
	Get(filePath string) (io.ReadCloser, error)
	Delete(filePath string) error
}

// localStorage implements RawStore using local filesystem
type localStorage struct {
	basePath string
}

// NewLocalStorage creates a new localStorage instance
func NewLocalStorage(basePath string) (RawStore, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &localStorage{basePath: basePath}, nil
}

// validatePath ensures path is within basePath (prevents traversal)
func (s *localStorage) validatePath(filePath string) (string, error) {
	cleanPath := filepath.Clean(filePath)

	if filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") {
		return "", ErrPathTraversal
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	// Security check: ensure file is within allowed directory
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// Save stores a message source under <accountID>/<xx>/<uuid>.eml
func (s *localStorage) Save(accountID uint, content io.Reader) (string, error) {
	uniqueName := uuid.New().String() + rawExt

	// Shard by the first 2 chars of the UUID for better distribution
	relDir := filepath.Join(strconv.FormatUint(uint64(accountID), 10), uniqueName[:2])
	if err := os.MkdirAll(filepath.Join(s.basePath, relDir), 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	filePath := filepath.Join(relDir, uniqueName)
	fullPath := filepath.Join(s.basePath, filePath)

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	// Read one byte past the limit to detect oversize sources
	n, err := io.Copy(file, io.LimitReader(content, MaxRawSize+1))
	closeErr := file.Close()
	if err == nil && n > MaxRawSize {
		err = ErrFileTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullPath)
		if errors.Is(err, ErrFileTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return filepath.ToSlash(filePath), nil
}

// Get retrieves a file by its path
func (s *localStorage) Get(filePath string) (io.ReadCloser, error) {
	fullPath, err := s.validatePath(filePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes a file by its path
func (s *localStorage) Delete(filePath string) error {
	fullPath, err := s.validatePath(filePath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			// File already doesn't exist, not an error
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
