package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// DatasetStager moves uploaded datasets onto the canonical input path that the
// prediction pipeline reads from. Staging is destructive: whatever occupied the
// canonical path before is replaced and no backup is kept.
type DatasetStager struct {
	canonicalPath string
}

func NewDatasetStager(canonicalPath string) *DatasetStager {
	return &DatasetStager{canonicalPath: canonicalPath}
}

func (s *DatasetStager) CanonicalPath() string {
	return s.canonicalPath
}

// Stage replaces the canonical dataset with the file at uploadPath. The upload is
// moved, not copied, so uploadPath no longer exists afterwards.
func (s *DatasetStager) Stage(ctx context.Context, uploadPath string) (string, error) {
	if uploadPath == "" {
		return "", ErrInputUnavailable
	}

	info, err := os.Stat(uploadPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("uploaded dataset no longer exists", "path", uploadPath)
			return "", ErrInputUnavailable
		}
		return "", fmt.Errorf("%w: unable to stat upload %s: %v", ErrStagingFailed, uploadPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: upload %s is a directory", ErrStagingFailed, uploadPath)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	samePath, err := sameFile(uploadPath, s.canonicalPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}
	if samePath {
		return s.canonicalPath, nil
	}

	dir := filepath.Dir(s.canonicalPath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("%w: unable to create directory %s: %v", ErrStagingFailed, dir, err)
	}

	tmp, err := s.moveToTemp(uploadPath)
	if err != nil {
		return "", err
	}

	if err := replaceFile(tmp, s.canonicalPath); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}

	slog.Info("staged dataset", "upload", uploadPath, "canonical_path", s.canonicalPath, "size", info.Size())
	return s.canonicalPath, nil
}

// moveToTemp puts the upload next to the canonical path under a temporary name,
// so the final step is a rename within one directory.
func (s *DatasetStager) moveToTemp(uploadPath string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(s.canonicalPath), ".staging-*.csv")
	if err != nil {
		return "", fmt.Errorf("%w: unable to create temp file: %v", ErrStagingFailed, err)
	}
	tmp := f.Name()
	f.Close()

	renameErr := os.Rename(uploadPath, tmp)
	if renameErr == nil {
		return tmp, nil
	}
	slog.Debug("rename into staging dir failed, falling back to copy", "upload", uploadPath, "error", renameErr)

	if err := copyFile(uploadPath, tmp); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("%w: unable to copy upload %s: %v", ErrStagingFailed, uploadPath, err)
	}

	if err := os.Remove(uploadPath); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("%w: unable to remove upload %s after copy: %v", ErrStagingFailed, uploadPath, err)
	}

	return tmp, nil
}

// replaceFile renames src over dst. When the rename fails only because dst is
// occupied by something a rename cannot replace, such as an empty directory, the
// occupant is removed and the rename is retried once. Any other failure leaves
// dst untouched.
func replaceFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	if !errors.Is(err, fs.ErrExist) && !errors.Is(err, syscall.EISDIR) {
		return fmt.Errorf("unable to move %s to %s: %w", src, dst, err)
	}

	slog.Warn("canonical dataset path occupied, replacing occupant", "path", dst, "error", err)
	if err := os.Remove(dst); err != nil {
		return fmt.Errorf("unable to remove existing dataset %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("unable to move %s to %s after removing occupant: %w", src, dst, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sameFile(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
