package specs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pdfx "github.com/ledongthuc/pdf"
)

// LoadFile reads a specification from a markdown/text file or a PDF.
func LoadFile(path string) (*Specification, error) {
	var text string
	var err error

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err = readPDF(path)
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read specification %s: %w", path, err)
	}

	spec, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid specification %s: %w", path, err)
	}
	spec.Source = path
	return spec, nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdfx.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
