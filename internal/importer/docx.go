package importer

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// ExtractDocxText pulls the plain text out of a .docx payload. A docx file is
// a zip archive whose main body lives in word/document.xml; text runs sit in
// <w:t> elements and paragraphs in <w:p> elements, which become newlines.
func ExtractDocxText(r io.ReaderAt, size int64) (string, error) {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return "", err
	}
	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		body, err := file.Open()
		if err != nil {
			return "", err
		}
		defer body.Close()
		return extractParagraphs(body)
	}
	return "", errors.New("document.xml not found")
}

func extractParagraphs(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var builder strings.Builder
	inText := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				builder.WriteByte('\t')
			case "br":
				builder.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				builder.Write(t)
			}
		}
	}
	return builder.String(), nil
}
