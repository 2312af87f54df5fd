// Package pdftext opens downloaded cause-list PDFs as paged text.
// pdfcpu validates the file and counts pages; ledongthuc/pdf extracts text.
package pdftext

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
)

// Document is a paged text view over one file. Pages are 1-based.
type Document interface {
	NumPages() int
	PageText(page int) (string, error)
}

// Opener turns raw bytes into a Document.
type Opener interface {
	Open(data []byte) (Document, error)
}

// Reader is the PDF Opener.
type Reader struct {
	conf *model.Configuration
}

// New builds a Reader with relaxed validation; court PDFs often fail strict validation.
func New() *Reader {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Reader{conf: conf}
}

// Open validates data and prepares per-page text extraction.
func (r *Reader) Open(data []byte) (doc Document, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("open pdf: empty body: %w", causelist.ErrMalformedPage)
	}
	pages, err := api.PageCount(bytes.NewReader(data), r.conf)
	if err != nil {
		return nil, fmt.Errorf("open pdf: page count: %w: %w", causelist.ErrMalformedPage, err)
	}
	defer func() {
		// ledongthuc/pdf panics on some malformed object graphs.
		if rec := recover(); rec != nil {
			doc = nil
			err = fmt.Errorf("open pdf: %w: %v", causelist.ErrMalformedPage, rec)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: text reader: %w: %w", causelist.ErrMalformedPage, err)
	}
	return &document{pages: pages, reader: reader}, nil
}

type document struct {
	pages  int
	reader *pdf.Reader
}

func (d *document) NumPages() int {
	return d.pages
}

func (d *document) PageText(page int) (text string, err error) {
	if page < 1 || page > d.pages {
		return "", fmt.Errorf("page %d out of range 1..%d", page, d.pages)
	}
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("page %d text: %v", page, rec)
		}
	}()
	if page > d.reader.NumPage() {
		return "", nil
	}
	p := d.reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", page, err)
	}
	return text, nil
}
