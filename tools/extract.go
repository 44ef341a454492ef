// tools/extract.go
package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/jhillyerd/enmime"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
)

var htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)

// Extractor unpacks archives and e-mails next to the source file
type Extractor struct {
	settings config.SettingsProvider
}

// NewExtractor creates the extract tool backend
func NewExtractor(settings config.SettingsProvider) *Extractor {
	return &Extractor{settings: settings}
}

// Tool returns the extract tool
func (e *Extractor) Tool() Tool {
	return Func(mcp.Tool{
		Name:        "extract",
		Description: "Extract content from email files (.eml) and zip archives (.zip).",
		InputSchema: objectSchema(map[string]interface{}{
			"filename": prop("string", "The path to the file to extract."),
		}, "filename"),
	}, e.extract)
}

type extractArgs struct {
	Filename string `json:"filename"`
}

// ExtractResult describes what was unpacked. Paths are relative to the root dir.
type ExtractResult struct {
	Status           string   `json:"status"`
	ExtractionFolder string   `json:"extraction_folder"`
	ExtractedFiles   []string `json:"extracted_files"`
	TotalFiles       int      `json:"total_files"`
}

func (e *Extractor) extract(ctx context.Context, args extractArgs) (any, error) {
	root := e.settings.Settings().RootDir
	if root == "" {
		return nil, errRootNotSet
	}
	path, err := jailedJoin(root, args.Filename)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, errors.New("file not found")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return nil, errors.New("extraction error, corrupted filename")
	}
	folder := path + ".extracted"

	var files []string
	switch ext {
	case "zip":
		files, err = extractZip(path, folder)
	case "eml":
		files, err = extractEmail(path, folder)
	default:
		return nil, errors.New("unsupported file type")
	}
	if err != nil {
		return nil, err
	}

	result := ExtractResult{
		Status:           "success",
		ExtractionFolder: relTo(root, folder),
		ExtractedFiles:   make([]string, 0, len(files)),
		TotalFiles:       len(files),
	}
	for _, f := range files {
		result.ExtractedFiles = append(result.ExtractedFiles, relTo(root, f))
	}
	return result, nil
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// safeJoin joins an archive-supplied name onto dir, refusing names that
// would land outside it.
func safeJoin(dir, name string) (string, bool) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func extractZip(path, folder string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.New("cannot extract")
	}
	defer r.Close()

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, err
	}

	var files []string
	for _, f := range r.File {
		target, ok := safeJoin(folder, f.Name)
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := writeZipEntry(f, target); err != nil {
			return nil, fmt.Errorf("cannot extract %s: %w", f.Name, err)
		}
		files = append(files, target)
	}
	return files, nil
}

func writeZipEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func extractEmail(path, folder string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env, err := enmime.ReadEnvelope(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse .eml file: %w", err)
	}
	return writeEnvelope(env, folder, 0)
}

const maxEmbeddedDepth = 5

func writeEnvelope(env *enmime.Envelope, folder string, depth int) ([]string, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, err
	}

	var md strings.Builder
	for _, h := range []struct{ label, key string }{
		{"From", "From"}, {"Sent", "Date"}, {"To", "To"}, {"CC", "Cc"}, {"Subject", "Subject"},
	} {
		if v := env.GetHeader(h.key); v != "" {
			fmt.Fprintf(&md, "%s: %s\n", h.label, v)
		}
	}
	md.WriteString("\n---\n")

	body := env.Text
	if env.HTML != "" {
		converted, err := htmltomarkdown.ConvertString(htmlComments.ReplaceAllString(env.HTML, ""))
		if err == nil {
			body = converted
		}
	}
	md.WriteString(body)
	md.WriteString("\n")

	mdPath := filepath.Join(folder, "EMAIL.md")
	if err := os.WriteFile(mdPath, []byte(md.String()), 0o644); err != nil {
		return nil, err
	}
	files := []string{mdPath}

	for _, att := range append(env.Attachments, env.Inlines...) {
		if att.ContentType == "message/rfc822" && depth < maxEmbeddedDepth {
			embedded, err := enmime.ReadEnvelope(bytes.NewReader(att.Content))
			if err == nil {
				name := sanitizeFilename(embedded.GetHeader("Subject"), "embedded_email")
				nested, err := writeEnvelope(embedded, filepath.Join(folder, name), depth+1)
				if err != nil {
					return nil, err
				}
				files = append(files, nested...)
				continue
			}
		}

		name := sanitizeFilename(att.FileName, "unnamed_attachment")
		target, ok := safeJoin(folder, name)
		if !ok {
			continue
		}
		if err := os.WriteFile(target, att.Content, 0o644); err != nil {
			return nil, err
		}
		files = append(files, target)
	}
	return files, nil
}

func sanitizeFilename(name, fallback string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, ". ")
	if name == "" {
		return fallback
	}
	return name
}
