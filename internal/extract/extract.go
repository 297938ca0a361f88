// Package extract turns supported document files into plain text.
package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file types the extractor recognizes but
// cannot turn into text (image formats, legacy binary formats).
var ErrUnsupported = errors.New("unsupported file type")

// SupportedExtensions lists every extension the ingestion pipeline picks up.
// Image and legacy formats are accepted as candidates so that failures are
// recorded per file instead of the files being silently invisible.
var SupportedExtensions = []string{
	".pdf", ".docx", ".doc", ".xlsx", ".xls",
	".pptx", ".ppt", ".txt", ".md", ".html",
	".msg", ".eml", ".png", ".jpg", ".jpeg",
}

// IsSupported reports whether the file extension is a known document type.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Text extracts the plain-text content of the file at path.
func Text(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	case ".html":
		return htmlText(path)
	case ".pdf":
		return pdfText(path)
	case ".docx":
		return docxText(path)
	case ".eml":
		return emlText(path)
	case ".pptx", ".xlsx":
		// Office XML archives share the docx container format; pull text
		// runs out of their XML parts.
		return officeArchiveText(path)
	case ".doc", ".xls", ".ppt", ".msg", ".png", ".jpg", ".jpeg":
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupported)
	default:
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupported)
	}
}

func htmlText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parsing html %s: %w", path, err)
	}
	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	doc.Find("title, h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	})
	if sb.Len() == 0 {
		// Fallback for documents without block structure.
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.TrimSpace(sb.String()), nil
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text %s: %w", path, err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading pdf text %s: %w", path, err)
	}
	return string(data), nil
}

// docx document body XML elements we care about: w:p (paragraph) and w:t (text run).
type docxBody struct {
	Paragraphs []docxParagraph `xml:"body>p"`
}

type docxParagraph struct {
	Runs []string `xml:"r>t"`
}

func docxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening docx %s: %w", path, err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("opening document.xml in %s: %w", path, err)
		}
		defer rc.Close()

		var body docxBody
		if err := xml.NewDecoder(rc).Decode(&body); err != nil {
			return "", fmt.Errorf("parsing document.xml in %s: %w", path, err)
		}

		var sb strings.Builder
		for _, p := range body.Paragraphs {
			line := strings.Join(p.Runs, "")
			if strings.TrimSpace(line) == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n\n")
		}
		return strings.TrimSpace(sb.String()), nil
	}
	return "", fmt.Errorf("docx %s: missing word/document.xml", path)
}

// officeArchiveText extracts raw text runs from pptx/xlsx XML parts. For
// workbooks, shared strings and inline-string cells are covered; numeric
// cell values carry no <t> element and are not extracted.
func officeArchiveText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer zr.Close()

	var sb strings.Builder
	for _, file := range zr.File {
		isSlide := strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml")
		isSharedStrings := file.Name == "xl/sharedStrings.xml"
		isWorksheet := strings.HasPrefix(file.Name, "xl/worksheets/sheet") && strings.HasSuffix(file.Name, ".xml")
		if !isSlide && !isSharedStrings && !isWorksheet {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("opening %s in %s: %w", file.Name, path, err)
		}
		text, err := xmlTextContent(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parsing %s in %s: %w", file.Name, path, err)
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("%s: no extractable text parts", filepath.Base(path))
	}
	return out, nil
}

// xmlTextContent concatenates the character data of all <t> elements.
func xmlTextContent(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if el.Name.Local == "t" {
				inText = false
				sb.WriteString(" ")
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func emlText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return "", fmt.Errorf("parsing email %s: %w", path, err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return "", fmt.Errorf("reading email body %s: %w", path, err)
	}

	var sb strings.Builder
	if subject := msg.Header.Get("Subject"); subject != "" {
		sb.WriteString(subject)
		sb.WriteString("\n\n")
	}
	sb.Write(body)
	return strings.TrimSpace(sb.String()), nil
}
