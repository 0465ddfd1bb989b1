package models

import (
	"fmt"
	"time"
)

// FileState tracks whether a file row is visible to readers.
type FileState string

const (
	FileStatePending FileState = "pending"
	FileStateActive  FileState = "active"
)

// MimeCategory is a coarse grouping of file types used by clients for icons and filters.
type MimeCategory string

const (
	CategoryImage        MimeCategory = "image"
	CategoryDocument     MimeCategory = "document"
	CategorySpreadsheet  MimeCategory = "spreadsheet"
	CategoryPresentation MimeCategory = "presentation"
	CategoryArchive      MimeCategory = "archive"
	CategoryAudio        MimeCategory = "audio"
	CategoryVideo        MimeCategory = "video"
	CategoryCode         MimeCategory = "code"
	CategoryOther        MimeCategory = "other"
)

// FileRecord is the metadata for one stored file.
type FileRecord struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"owner_id"`
	OriginalName   string       `json:"original_name"`
	StoredKey      string       `json:"-"`
	SizeBytes      int64        `json:"size_bytes"`
	ContentType    string       `json:"content_type,omitempty"`
	MimeCategory   MimeCategory `json:"mime_category"`
	Comment        string       `json:"comment"`
	PublicLink     string       `json:"public_link"`
	UploadedAt     time.Time    `json:"uploaded_at"`
	LastDownloadAt *time.Time   `json:"last_download_at,omitempty"`
	DownloadCount  int64        `json:"download_count"`
	State          FileState    `json:"-"`
}

// FileOrderField is a sortable column of a file listing.
type FileOrderField string

const (
	FileOrderUploadedAt    FileOrderField = "uploaded_at"
	FileOrderName          FileOrderField = "name"
	FileOrderSize          FileOrderField = "size"
	FileOrderDownloadCount FileOrderField = "download_count"
	FileOrderLastDownload  FileOrderField = "last_download"
)

// FileOrder is a parsed ordering such as "-uploaded_at".
type FileOrder struct {
	Field FileOrderField
	Desc  bool
}

// DefaultFileOrder lists the most recent uploads first.
var DefaultFileOrder = FileOrder{Field: FileOrderUploadedAt, Desc: true}

func ParseFileOrder(raw string) (FileOrder, error) {
	field, desc := splitOrder(raw)
	if field == "" {
		return DefaultFileOrder, nil
	}
	switch FileOrderField(field) {
	case FileOrderUploadedAt, FileOrderName, FileOrderSize, FileOrderDownloadCount, FileOrderLastDownload:
		return FileOrder{Field: FileOrderField(field), Desc: desc}, nil
	default:
		return FileOrder{}, fmt.Errorf("invalid ordering: %s", raw)
	}
}
