// tools/loadfile.go
package tools

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/types"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFile is returned for file types that cannot be loaded
var ErrUnsupportedFile = errors.New("unsupported file type")

var textExtensions = map[string]bool{
	"txt": true, "md": true, "csv": true, "json": true, "xml": true, "html": true, "css": true,
	"js": true, "ts": true, "jsx": true, "tsx": true, "py": true, "rb": true, "java": true,
	"c": true, "cpp": true, "h": true, "hpp": true, "cs": true, "go": true, "php": true,
	"swift": true, "kt": true, "rs": true, "toml": true, "yaml": true, "yml": true,
	"ini": true, "cfg": true, "log": true, "sh": true, "bat": true,
}

// FileLoader turns files into content parts a model can read
type FileLoader struct {
	settings config.SettingsProvider
}

// NewFileLoader creates a loader reading soffice path and cache dir from settings
func NewFileLoader(settings config.SettingsProvider) *FileLoader {
	return &FileLoader{settings: settings}
}

// Tool returns the load_file tool
func (l *FileLoader) Tool() Tool {
	return PayloadFunc(mcp.Tool{
		Name:        "load_file",
		Description: "Loads a file directly into the conversation context. Supports various file types.",
		InputSchema: objectSchema(map[string]interface{}{
			"filename": prop("string", "The path to the file to load."),
		}, "filename"),
	}, l.loadFile)
}

type loadFileArgs struct {
	Filename string `json:"filename"`
}

func (l *FileLoader) loadFile(ctx context.Context, args loadFileArgs) ToolPayload {
	root := l.settings.Settings().RootDir
	if root == "" {
		return Failure(errRootNotSet)
	}
	path, err := jailedJoin(root, args.Filename)
	if err != nil {
		return Failure(err)
	}

	content, err := l.Load(ctx, path)
	if err != nil {
		return Failure(err)
	}

	intro := types.TextContent(fmt.Sprintf(
		"The content of the file '%s' has been loaded. Here is the full content for your context. "+
			"Please use this content to answer any subsequent questions.", args.Filename))
	return Success("file_loaded").WithLLM(append([]types.Content{intro}, content...)...)
}

// Load reads the file at path and converts it by extension
func (l *FileLoader) Load(ctx context.Context, path string) ([]types.Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch {
	case ext == "jpg" || ext == "jpeg":
		return []types.Content{types.ImageContent(dataURL("image/jpeg", data))}, nil
	case ext == "png":
		return []types.Content{types.ImageContent(dataURL("image/png", data))}, nil
	case ext == "pdf":
		return []types.Content{types.FileContent(filepath.Base(path), dataURL("application/pdf", data))}, nil
	case ext == "docx" || ext == "pptx":
		pdf, err := l.convertToPDF(ctx, path, data)
		if err != nil {
			return nil, err
		}
		return []types.Content{types.FileContent(filepath.Base(path), dataURL("application/pdf", pdf))}, nil
	case ext == "xlsx":
		text, err := l.convertXLSXToCSV(data)
		if err != nil {
			return nil, err
		}
		return []types.Content{types.TextContent(text)}, nil
	case textExtensions[ext]:
		return []types.Content{types.TextContent(string(data))}, nil
	default:
		return nil, ErrUnsupportedFile
	}
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// cachePath keys converted output by the sha256 of the source bytes
func (l *FileLoader) cachePath(source []byte, ext string) (string, bool) {
	dir := l.settings.Settings().CacheDir
	if dir == "" {
		return "", false
	}
	sum := sha256.Sum256(source)
	hash := hex.EncodeToString(sum[:])
	return filepath.Join(dir, hash[:2], hash[2:]+"."+ext), true
}

func (l *FileLoader) readCache(source []byte, ext string) ([]byte, bool) {
	path, ok := l.cachePath(source, ext)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// writeCache is best effort
func (l *FileLoader) writeCache(source, converted []byte, ext string) {
	path, ok := l.cachePath(source, ext)
	if !ok {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, converted, 0o644)
}

func (l *FileLoader) convertToPDF(ctx context.Context, path string, source []byte) ([]byte, error) {
	if cached, ok := l.readCache(source, "pdf"); ok {
		return cached, nil
	}

	soffice := l.settings.Settings().SofficePath
	if soffice == "" {
		soffice = "soffice"
	}

	tmp, err := os.MkdirTemp("", "file_conversion")
	if err != nil {
		return nil, fmt.Errorf("file conversion error: %w", err)
	}
	defer os.RemoveAll(tmp)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, soffice, "--headless", "--convert-to", "pdf", "--outdir", tmp, path)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("LibreOffice conversion failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	base := filepath.Base(path)
	pdfPath := filepath.Join(tmp, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("PDF conversion error: %w", err)
	}

	l.writeCache(source, pdf, "pdf")
	return pdf, nil
}

// convertXLSXToCSV writes every sheet as CSV rows prefixed with the sheet name
func (l *FileLoader) convertXLSXToCSV(source []byte) (string, error) {
	if cached, ok := l.readCache(source, "csv"); ok {
		return string(cached), nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("cannot open xlsx workbook: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("cannot read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			if err := w.Write(append([]string{sheet}, row...)); err != nil {
				return "", fmt.Errorf("error writing CSV: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("error writing CSV: %w", err)
	}

	l.writeCache(source, buf.Bytes(), "csv")
	return buf.String(), nil
}
