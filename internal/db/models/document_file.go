package models

import (
	"time"
)

// DocumentFile holds the PDF artifact attached to a document. At most one
// per document; re-uploading replaces it.
type DocumentFile struct {
	DocumentID  string    `gorm:"primaryKey;size:64"`
	Filename    string    `gorm:"size:256"`
	ContentHash string    `gorm:"size:64;not null"`
	Content     []byte    `gorm:"not null"`
	Size        int64     `gorm:"not null"`
	UploadedBy  string    `gorm:"size:64"`
	UploadedAt  time.Time `gorm:"autoCreateTime"`
}

func (DocumentFile) TableName() string {
	return "document_files"
}
