package guard

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"mycloud/internal/models"
)

var extensionCategories = map[string]models.MimeCategory{
	".jpg": models.CategoryImage, ".jpeg": models.CategoryImage, ".png": models.CategoryImage,
	".gif": models.CategoryImage, ".webp": models.CategoryImage, ".svg": models.CategoryImage,
	".bmp": models.CategoryImage, ".ico": models.CategoryImage,

	".pdf": models.CategoryDocument, ".doc": models.CategoryDocument, ".docx": models.CategoryDocument,
	".txt": models.CategoryDocument, ".rtf": models.CategoryDocument, ".odt": models.CategoryDocument,
	".md": models.CategoryDocument,

	".xls": models.CategorySpreadsheet, ".xlsx": models.CategorySpreadsheet,
	".csv": models.CategorySpreadsheet, ".ods": models.CategorySpreadsheet,

	".ppt": models.CategoryPresentation, ".pptx": models.CategoryPresentation, ".odp": models.CategoryPresentation,

	".zip": models.CategoryArchive, ".rar": models.CategoryArchive, ".7z": models.CategoryArchive,
	".tar": models.CategoryArchive, ".gz": models.CategoryArchive, ".bz2": models.CategoryArchive,

	".mp3": models.CategoryAudio, ".wav": models.CategoryAudio, ".ogg": models.CategoryAudio,

	".mp4": models.CategoryVideo, ".avi": models.CategoryVideo, ".mkv": models.CategoryVideo, ".mov": models.CategoryVideo,

	".py": models.CategoryCode, ".js": models.CategoryCode, ".html": models.CategoryCode,
	".css": models.CategoryCode, ".json": models.CategoryCode, ".xml": models.CategoryCode,
	".sql": models.CategoryCode,
}

// extensionTypes pins media types whose system mime tables disagree across platforms.
var extensionTypes = map[string]string{
	".md":   "text/markdown",
	".csv":  "text/csv",
	".7z":   "application/x-7z-compressed",
	".rar":  "application/vnd.rar",
	".py":   "text/x-python",
	".sql":  "application/sql",
	".mkv":  "video/x-matroska",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// MimeCategory derives the coarse category of a file from its name, falling
// back to its media type.
func MimeCategory(name, mediaType string) models.MimeCategory {
	ext := normalizeExtension(filepath.Ext(strings.TrimSpace(name)))
	if category, ok := extensionCategories[ext]; ok {
		return category
	}

	mediaType = normalizeMediaType(mediaType)
	switch {
	case mediaType == "":
		return models.CategoryOther
	case strings.HasPrefix(mediaType, "image/"):
		return models.CategoryImage
	case strings.HasPrefix(mediaType, "audio/"):
		return models.CategoryAudio
	case strings.HasPrefix(mediaType, "video/"):
		return models.CategoryVideo
	}

	if known := mimetype.Lookup(mediaType); known != nil {
		if category, ok := extensionCategories[known.Extension()]; ok {
			return category
		}
	}
	if strings.HasPrefix(mediaType, "text/") {
		return models.CategoryDocument
	}
	return models.CategoryOther
}
