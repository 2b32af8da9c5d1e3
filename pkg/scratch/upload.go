package scratch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrUploadNotFound is returned for unknown upload ids.
var ErrUploadNotFound = errors.New("invoice not found")

// Upload statuses.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
)

// Upload describes a receipt stored for a later batch submission.
type Upload struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
	FilePath string `json:"filePath"`
	Status   string `json:"status"`
}

// StoreUpload writes data under a new id next to a <id>.json metadata
// document.
func (d *Dir) StoreUpload(fileName, fileType string, data []byte) (*Upload, error) {
	id := uuid.NewString()
	up := &Upload{
		ID:       id,
		FileName: fileName,
		FileSize: int64(len(data)),
		FileType: fileType,
		FilePath: filepath.Join(d.root, id+extension(fileName)),
		Status:   StatusPending,
	}
	if err := os.WriteFile(up.FilePath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := d.writeMeta(up); err != nil {
		_ = os.Remove(up.FilePath)
		return nil, err
	}
	d.logger.Infof("stored upload %s (%s, %d bytes)", id, fileName, len(data))
	return up, nil
}

// LoadUpload reads the metadata of upload id.
func (d *Dir) LoadUpload(id string) (*Upload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}
	data, err := os.ReadFile(d.metaPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read upload metadata: %w", err)
	}

	var up Upload
	if err := json.Unmarshal(data, &up); err != nil {
		return nil, fmt.Errorf("parse upload metadata: %w", err)
	}
	return &up, nil
}

// ReadUpload returns the metadata and content of upload id.
func (d *Dir) ReadUpload(id string) (*Upload, []byte, error) {
	up, err := d.LoadUpload(id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(up.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: file for %s is gone", ErrUploadNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	return up, data, nil
}

// MarkUpload updates the status of upload id.
func (d *Dir) MarkUpload(id, status string) error {
	up, err := d.LoadUpload(id)
	if err != nil {
		return err
	}
	up.Status = status
	return d.writeMeta(up)
}

// DeleteUpload removes the receipt and metadata of upload id.
func (d *Dir) DeleteUpload(id string) error {
	up, err := d.LoadUpload(id)
	if err != nil {
		return err
	}
	d.Remove(up.FilePath, d.metaPath(id))
	return nil
}

func (d *Dir) metaPath(id string) string {
	return filepath.Join(d.root, id+".json")
}

// writeMeta replaces the metadata file atomically.
func (d *Dir) writeMeta(up *Upload) error {
	data, err := json.MarshalIndent(up, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal upload metadata: %w", err)
	}
	tmp := d.metaPath(up.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write upload metadata: %w", err)
	}
	if err := os.Rename(tmp, d.metaPath(up.ID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write upload metadata: %w", err)
	}
	return nil
}
