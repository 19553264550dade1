// Package extract turns uploaded documents and fetched web pages into raw text.
package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Unsupported is returned in place of text for file types File cannot read.
// Callers must compare against it before treating the result as content.
const Unsupported = "Unsupported file type."

var extractors = map[string]func(path string) (string, error){
	".txt":  readText,
	".pdf":  readPDF,
	".docx": readDOCX,
	".pptx": readPPTX,
}

// Supported reports whether File can extract text from files with extension ext.
func Supported(ext string) bool {
	_, ok := extractors[strings.ToLower(ext)]
	return ok
}

// File returns the full text content of the file at path, chosen by extension.
// Unknown extensions yield Unsupported with a nil error; open or parse failures
// are returned as errors.
func File(path string) (string, error) {
	fn, ok := extractors[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Unsupported, nil
	}
	text, err := fn(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", pageNum, err)
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

func readDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	paragraphs, err := docxParagraphs(r.Editable().GetContent())
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs, "\n"), nil
}

// docxParagraphs returns the text of every body-level w:p element in order.
// Paragraphs nested in tables are skipped, as is text box content
// (w:txbxContent) and the legacy copy under mc:Fallback, so a text box never
// splits the paragraph anchoring it.
func docxParagraphs(documentXML string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(documentXML))
	var (
		paragraphs []string
		current    strings.Builder
		paraDepth  int
		skipDepth  int
		inText     bool
		tableDepth int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "txbxContent" || t.Name.Local == "Fallback" || skipDepth > 0 {
				skipDepth++
				continue
			}
			inPara := paraDepth > 0
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "p":
				if tableDepth > 0 {
					continue
				}
				if paraDepth == 0 {
					current.Reset()
				}
				paraDepth++
			case "t":
				inText = inPara
			case "tab":
				if inPara {
					current.WriteString("\t")
				}
			case "br", "cr":
				if inPara {
					current.WriteString("\n")
				}
			}
		case xml.EndElement:
			if skipDepth > 0 {
				skipDepth--
				continue
			}
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "p":
				if tableDepth > 0 || paraDepth == 0 {
					continue
				}
				paraDepth--
				if paraDepth == 0 {
					paragraphs = append(paragraphs, current.String())
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText && skipDepth == 0 {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

func readPPTX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	slides := slideFiles(zr.File)
	var sb strings.Builder
	for _, f := range slides {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		shapes, err := slideShapeTexts(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", f.Name, err)
		}
		for _, s := range shapes {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// slideFiles returns ppt/slides/slideN.xml entries ordered by N.
func slideFiles(files []*zip.File) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var slides []numbered
	for _, f := range files {
		name := f.Name
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, numbered{n: n, f: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	out := make([]*zip.File, len(slides))
	for i, s := range slides {
		out[i] = s.f
	}
	return out
}

// slideShapeTexts returns the text of every top-level text-bearing shape (p:sp
// with a p:txBody), paragraphs joined by newlines.
func slideShapeTexts(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		shapes     []string
		paragraphs []string
		para       strings.Builder
		groupDepth int
		inShape    bool
		hasBody    bool
		inPara     bool
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "grpSp":
				groupDepth++
			case "sp":
				if groupDepth == 0 {
					inShape, hasBody = true, false
					paragraphs = paragraphs[:0]
				}
			case "txBody":
				hasBody = hasBody || inShape
			case "p":
				if inShape && hasBody {
					inPara = true
					para.Reset()
				}
			case "t":
				inText = inPara
			case "br":
				if inPara {
					para.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "grpSp":
				groupDepth--
			case "sp":
				if inShape && groupDepth == 0 {
					if hasBody {
						shapes = append(shapes, strings.Join(paragraphs, "\n"))
					}
					inShape = false
				}
			case "p":
				if inPara {
					paragraphs = append(paragraphs, para.String())
					inPara = false
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return shapes, nil
}
