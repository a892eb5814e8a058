package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// WordsPerPage approximates a printed page for formats without real pages.
const WordsPerPage = 300

// Extraction is the normalized text of a document and its page count.
type Extraction struct {
	Text      string
	PageCount int
}

type FileExtractService struct{}

func NewFileExtractService() *FileExtractService {
	return &FileExtractService{}
}

// SupportedExtensions lists the accepted upload types.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".txt"}

func IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// signatureTypes maps each extension to the sniffed type its content must be
// or descend from. Office formats are zip containers.
var signatureTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/zip",
	".pptx": "application/zip",
	".txt":  "text/plain",
}

// MatchesSignature reports whether the sniffed content of data fits ext.
func MatchesSignature(ext string, data []byte) bool {
	want, ok := signatureTypes[strings.ToLower(ext)]
	if !ok {
		return false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

// Extract reads text and page count from the raw bytes of name; the
// extension of name picks the format.
func (s *FileExtractService) Extract(name string, data []byte) (*Extraction, error) {
	ext := strings.ToLower(filepath.Ext(name))

	switch ext {
	case ".txt":
		return s.extractTXT(data)
	case ".pdf":
		return s.extractPDF(data)
	case ".docx":
		return s.extractDOCX(data)
	case ".pptx":
		return s.extractPPTX(data)
	default:
		return nil, fmt.Errorf("unsupported file type for text extraction: %s", ext)
	}
}

func (s *FileExtractService) extractTXT(data []byte) (*Extraction, error) {
	text := normalizeExtractedText(string(data))
	if text == "" {
		return nil, fmt.Errorf("text file is empty")
	}
	return &Extraction{Text: text, PageCount: pagesFromWords(text)}, nil
}

func (s *FileExtractService) extractPDF(data []byte) (*Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	totalPage := reader.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}

	text := normalizeExtractedText(b.String())
	if text == "" {
		return nil, fmt.Errorf("no extractable text found in pdf")
	}
	return &Extraction{Text: text, PageCount: totalPage}, nil
}

func (s *FileExtractService) extractDOCX(data []byte) (*Extraction, error) {
	files, err := zipFiles(data)
	if err != nil {
		return nil, err
	}

	documentXML, ok := files["word/document.xml"]
	if !ok {
		return nil, fmt.Errorf("docx document.xml not found")
	}
	body, err := readZipFile(documentXML)
	if err != nil {
		return nil, err
	}

	text := normalizeExtractedText(stripOfficeXML(body))
	if text == "" {
		return nil, fmt.Errorf("no extractable text found in docx")
	}

	pages := 0
	if app, ok := files["docProps/app.xml"]; ok {
		if raw, err := readZipFile(app); err == nil {
			pages = docxPageCount(raw)
		}
	}
	if pages <= 0 {
		pages = pagesFromWords(text)
	}
	return &Extraction{Text: text, PageCount: pages}, nil
}

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func (s *FileExtractService) extractPPTX(data []byte) (*Extraction, error) {
	files, err := zipFiles(data)
	if err != nil {
		return nil, err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for name, f := range files {
		if m := slidePattern.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n, f})
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var b strings.Builder
	for _, sl := range slides {
		raw, err := readZipFile(sl.f)
		if err != nil {
			return nil, err
		}
		b.WriteString(stripOfficeXML(raw))
		b.WriteString("\n\n")
	}

	return &Extraction{Text: normalizeExtractedText(b.String()), PageCount: len(slides)}, nil
}

func zipFiles(data []byte) (map[string]*zip.File, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}
	return files, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// docxPageCount reads <Pages> from docProps/app.xml, 0 if absent.
func docxPageCount(appXML []byte) int {
	var props struct {
		Pages int `xml:"Pages"`
	}
	if err := xml.Unmarshal(appXML, &props); err != nil {
		return 0
	}
	return props.Pages
}

func pagesFromWords(text string) int {
	words := len(strings.Fields(text))
	pages := (words + WordsPerPage - 1) / WordsPerPage
	if pages < 1 {
		return 1
	}
	return pages
}

var xmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// stripOfficeXML flattens WordprocessingML and DrawingML to plain text.
func stripOfficeXML(src []byte) string {
	s := string(src)

	s = strings.ReplaceAll(s, "</w:p>", "\n")
	s = strings.ReplaceAll(s, "</a:p>", "\n")
	s = strings.ReplaceAll(s, "<w:br/>", "\n")
	s = strings.ReplaceAll(s, "<w:br />", "\n")
	s = strings.ReplaceAll(s, "<w:tab/>", "\t")

	s = xmlTagPattern.ReplaceAllString(s, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
	return replacer.Replace(s)
}

func normalizeExtractedText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	buf := bytes.Buffer{}

	emptyCount := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			emptyCount++
			if emptyCount > 1 {
				continue
			}
			buf.WriteString("\n")
			continue
		}
		emptyCount = 0
		buf.WriteString(trimmed)
		buf.WriteString("\n")
	}

	return strings.TrimSpace(buf.String())
}
