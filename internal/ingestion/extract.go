package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ContentType identifies the decoded format of an uploaded document, as
// sniffed by [Decode].
type ContentType string

const (
	ContentTypePDF  ContentType = "pdf"
	ContentTypeDOCX ContentType = "docx"
	ContentTypeTXT  ContentType = "txt"
)

// DecodedFile is one source document after base64 decoding and content-type
// sniffing, ready for text extraction.
type DecodedFile struct {
	Filename string
	Type     ContentType
	Bytes    []byte
}

// Decode base64-decodes raw and classifies its content type from the
// filename extension and a magic-byte sniff, rejecting anything it does not
// recognize.
func Decode(filename string, base64Content string) (DecodedFile, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Content)
	if err != nil {
		return DecodedFile{}, fmt.Errorf("ingestion: decode %q: %w", filename, err)
	}

	ct, err := sniffContentType(filename, raw)
	if err != nil {
		return DecodedFile{}, fmt.Errorf("ingestion: %q: %w", filename, err)
	}

	return DecodedFile{Filename: filename, Type: ct, Bytes: raw}, nil
}

func sniffContentType(filename string, raw []byte) (ContentType, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf") || bytes.HasPrefix(raw, []byte("%PDF-")):
		return ContentTypePDF, nil
	case strings.HasSuffix(lower, ".docx") || bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return ContentTypeDOCX, nil
	case strings.HasSuffix(lower, ".txt"):
		return ContentTypeTXT, nil
	default:
		return "", fmt.Errorf("unrecognized content type")
	}
}

// ExtractText produces the full plain-text content of f, page-wise for PDF,
// block-wise for DOCX, and verbatim for TXT.
func ExtractText(f DecodedFile) (string, error) {
	switch f.Type {
	case ContentTypePDF:
		return extractPDF(f.Bytes)
	case ContentTypeDOCX:
		return extractDOCX(f.Bytes)
	case ContentTypeTXT:
		return string(f.Bytes), nil
	default:
		return "", fmt.Errorf("ingestion: unsupported content type %q", f.Type)
	}
}

// extractPDF reads every page of a PDF and joins their plain text with blank
// lines, preserving page order.
func extractPDF(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("ingestion: open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("ingestion: extract pdf page %d: %w", i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// docxParagraph and docxRun mirror just enough of the WordprocessingML
// schema to pull plain text runs out of word/document.xml; a DOCX is a zip
// archive of XML parts, and no third-party parser for it appears among the
// reference implementations, so this reads the one part ingestion needs
// directly.
type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text string `xml:"t"`
}

func extractDOCX(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("ingestion: open docx: %w", err)
	}

	var docFile io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("ingestion: open word/document.xml: %w", err)
			}
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("ingestion: word/document.xml not found")
	}
	defer docFile.Close()

	var doc docxDocument
	if err := xml.NewDecoder(docFile).Decode(&doc); err != nil {
		return "", fmt.Errorf("ingestion: parse word/document.xml: %w", err)
	}

	var sb strings.Builder
	for _, para := range doc.Body.Paragraphs {
		for _, run := range para.Runs {
			sb.WriteString(run.Text)
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
