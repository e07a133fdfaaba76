package audit

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/dshills/commitgate/internal/bisect"
)

// StepRow is the parquet schema of one bisect step.
type StepRow struct {
	SessionID  string  `parquet:"session_id"`
	Seq        int32   `parquet:"seq"`
	Phase      string  `parquet:"phase"`
	Commit     string  `parquet:"commit"`
	Index      int32   `parquet:"candidate_index"`
	Priority   *string `parquet:"priority,optional"`
	Verdict    string  `parquet:"verdict"`
	Remaining  int32   `parquet:"remaining"`
	Error      *string `parquet:"error,optional"`
	AtMillis   int64   `parquet:"at_millis"`
	DurationMs float64 `parquet:"duration_ms"`
}

// StepRows flattens the session trace.
func StepRows(s *bisect.Session) []StepRow {
	rows := make([]StepRow, 0, len(s.Steps))
	for _, st := range s.Steps {
		rows = append(rows, StepRow{
			SessionID:  s.ID,
			Seq:        int32(st.Seq),
			Phase:      st.Phase,
			Commit:     st.Commit,
			Index:      int32(st.Index),
			Priority:   stringPtrOrNil(string(st.Priority)),
			Verdict:    string(st.Verdict),
			Remaining:  int32(st.Remaining),
			Error:      stringPtrOrNil(st.Err),
			AtMillis:   st.At.UnixMilli(),
			DurationMs: float64(st.Duration.Microseconds()) / 1000,
		})
	}
	return rows
}

// WriteSteps writes the session trace to w as zstd-compressed parquet.
func WriteSteps(w io.Writer, s *bisect.Session) (int, error) {
	writer := parquet.NewGenericWriter[StepRow](w, parquet.Compression(&parquet.Zstd))
	n, err := writer.Write(StepRows(s))
	if err != nil {
		_ = writer.Close()
		return n, fmt.Errorf("write steps: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("close parquet writer: %w", err)
	}
	return n, nil
}

// ExportSteps writes the session trace to a parquet file at path.
func ExportSteps(path string, s *bisect.Session) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := WriteSteps(f, s)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}

// ReadSteps reads a trace written by ExportSteps.
func ReadSteps(path string) ([]StepRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Size() == 0 {
		return nil, nil
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	reader := parquet.NewReader(pf)
	defer func() { _ = reader.Close() }()

	var rows []StepRow
	for {
		var row StepRow
		if err := reader.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read step: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
