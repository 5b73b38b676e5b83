// Package codec provides format-specific decoders behind domain.Decoder.
// The pipeline never inspects concrete decoder types; each decoder
// declares its addressing model through domain.FormatCaps.
package codec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/foliolabs/folio/internal/domain"
)

// ForPath picks a decoder by file extension.
func ForPath(path string) (domain.Decoder, domain.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return NewMarkdown(path), domain.FormatMarkdown, nil
	case ".pdf":
		return NewPDF(path), domain.FormatPDF, nil
	default:
		return nil, 0, fmt.Errorf("unsupported document format: %s", filepath.Ext(path))
	}
}
