package output

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/commitgate/internal/chunk"
)

// Writer writes a document in a specific format. Supported documents are
// *sanitize.Report, *gate.Result, []*gate.Result, *risk.Assessment,
// *bisect.Session, ChunkPlan, []*audit.Record and []audit.IncidentSummary.
type Writer interface {
	Write(w io.Writer, doc any) error
}

// ChunkPlan is the chunk layout of one diff.
type ChunkPlan struct {
	DiffID string        `json:"diffId"`
	Model  string        `json:"model,omitempty"`
	Budget int           `json:"budget"`
	Chunks []chunk.Chunk `json:"chunks"`
}

// UnsupportedError reports a document a format cannot render.
type UnsupportedError struct {
	Format string
	Doc    any
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s output does not support %T", e.Format, e.Doc)
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "text", "":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	case "sarif":
		return &SARIFWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteTo writes doc to outPath, or to stdout when outPath is empty.
func WriteTo(doc any, format, outPath string) error {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return writer.Write(w, doc)
}
