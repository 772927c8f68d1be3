package conversion

import (
	"fmt"
	"net/url"
	"strings"

	"docconvert/config"
	"docconvert/models"
)

const (
	// CodePageUTF8 is the document server's identifier for UTF-8.
	CodePageUTF8 = 65001
	keyPrefix    = "docconvert_"
	originalArea = "original"
)

// Formatter builds ConvertService parameters for a source file.
type Formatter struct {
	hostBaseURL     string
	hostInternalURL string
}

func NewFormatter(cfg *config.Config) *Formatter {
	return &Formatter{
		hostBaseURL:     strings.TrimRight(cfg.HostBaseURL, "/"),
		hostInternalURL: strings.TrimRight(cfg.HostInternalURL, "/"),
	}
}

// RequestKey is derived from the content only, so every attempt for the
// same bytes reuses the key the document server already knows.
func RequestKey(contentHash string) string {
	return keyPrefix + contentHash
}

// SourcePath is the path under which the file server exposes f to the
// document server.
func SourcePath(f models.SourceFile) string {
	return fmt.Sprintf("/files/%s/%d/%s/%s", originalArea, f.ID, f.ContentHash, url.PathEscape(f.Filename))
}

func (fm *Formatter) Format(file models.SourceFile, targetFormat string) (models.ConversionRequest, error) {
	ext := file.Extension()
	if !Supports(ext, targetFormat) {
		return models.ConversionRequest{}, &models.ConfigurationError{
			Setting: "format",
			Reason:  fmt.Sprintf("conversion from %q to %q is not supported", ext, targetFormat),
		}
	}
	if file.ContentHash == "" {
		return models.ConversionRequest{}, &models.ConfigurationError{
			Setting: "source file",
			Reason:  fmt.Sprintf("file %d has no content hash", file.ID),
		}
	}

	return models.ConversionRequest{
		Key:          RequestKey(file.ContentHash),
		SourceURL:    fm.sourceURL(file),
		TargetFormat: targetFormat,
		FileType:     ext,
		CodePage:     CodePageUTF8,
		Async:        true,
		Title:        file.Filename,
	}, nil
}

// sourceURL rewrites the public base into the one the document server can
// resolve from its own network.
func (fm *Formatter) sourceURL(file models.SourceFile) string {
	u := fm.hostBaseURL + SourcePath(file)
	if fm.hostInternalURL == "" {
		return u
	}
	return strings.Replace(u, fm.hostBaseURL, fm.hostInternalURL, 1)
}
