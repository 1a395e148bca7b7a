package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"pdf-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

const defaultPageNumber = 1

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Parser turns an uploaded file into page level documents.
type Parser interface {
	Parse(filename string, content []byte) ([]models.Document, error)
}

type FileParser struct{}

func New() *FileParser {
	return &FileParser{}
}

// Supported reports whether the file extension can be parsed.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// ParseFile reads a file from disk and parses it under its base name.
func (p *FileParser) ParseFile(path string) ([]models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return p.Parse(filepath.Base(path), data)
}

// Parse extracts text from content according to the filename extension.
// Documents without text are dropped; a file without any text is an error.
func (p *FileParser) Parse(filename string, content []byte) (docs []models.Document, err error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, filename)
	}

	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("%w: failed to parse %s: %v", models.ErrInvalidParameters, filename, r)
		}
	}()

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		docs, err = parsePDF(filename, content)
	case ".docx":
		docs, err = parseDOCX(filename, content)
	case ".pptx":
		docs, err = parsePPTX(filename, content)
	case ".xlsx":
		docs, err = parseXLSX(filename, content)
	case ".md", ".markdown":
		docs = []models.Document{{SourceID: filename, Page: defaultPageNumber, Text: markdownToText(content)}}
	case ".txt":
		docs = []models.Document{{SourceID: filename, Page: defaultPageNumber, Text: string(content)}}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", models.ErrInvalidParameters, filename, err)
	}

	docs = slices.DeleteFunc(docs, func(d models.Document) bool {
		return strings.TrimSpace(d.Text) == ""
	})
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, filename)
	}

	log.Debug().Str("file", filename).Int("pages", len(docs)).Msg("Parsed document")
	return docs, nil
}

func parsePDF(filename string, content []byte) ([]models.Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		docs = append(docs, models.Document{SourceID: filename, Page: i, Text: pageText})
	}
	return docs, nil
}

func parseDOCX(filename string, content []byte) ([]models.Document, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	text, err := wordprocessingText(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	// DOCX has no page numbers
	return []models.Document{{SourceID: filename, Page: defaultPageNumber, Text: text}}, nil
}

// wordprocessingText pulls the run text out of document.xml, one line per paragraph.
func wordprocessingText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

func parsePPTX(filename string, content []byte) ([]models.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	for _, file := range zr.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		slideNum, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.Document{
			SourceID: filename,
			Page:     slideNum,
			Text:     extractTextFromXML(string(data)),
		})
	}
	slices.SortFunc(docs, func(a, b models.Document) int { return a.Page - b.Page })
	return docs, nil
}

func parseXLSX(filename string, content []byte) ([]models.Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []models.Document
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		if len(rows) == 0 {
			continue
		}
		docs = append(docs, models.Document{
			SourceID: filename,
			Page:     sheetNum + 1, // 1-based indexing
			Text:     text.String(),
		})
	}
	return docs, nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	paragraphs := strings.Split(xmlContent, "</a:p>")
	for _, para := range paragraphs {
		parts := strings.Split(para, "<a:t>")
		var line strings.Builder
		for i, part := range parts {
			if i == 0 {
				continue
			}
			endIdx := strings.Index(part, "</a:t>")
			if endIdx >= 0 {
				line.WriteString(html.UnescapeString(part[:endIdx]))
			}
		}
		if line.Len() > 0 {
			text.WriteString(line.String())
			text.WriteString("\n")
		}
	}
	return text.String()
}
