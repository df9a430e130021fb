package writer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/newscrawl/internal/types"
)

// DefaultHeader is the column row of every output file
var DefaultHeader = []string{"Заголовок", "Компания", "Дата публикации", "Текст"}

// Stats counts what happened to the records handed to a writer
type Stats struct {
	Written int
	Skipped int
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Written += other.Written
	s.Skipped += other.Skipped
}

// CSVWriter appends article records to one CSV file. It is safe for
// concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	csv    *csv.Writer
	logger *log.Logger
}

// Open opens path for appending, creating it and its directory when needed.
// The header row is written only if the file is empty.
func Open(path string, header []string, logger *log.Logger) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	w := &CSVWriter{path: path, file: file, csv: csv.NewWriter(file), logger: logger}

	if info.Size() == 0 {
		if len(header) == 0 {
			header = DefaultHeader
		}
		if err := w.flushRow(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	return w, nil
}

// Path returns the file being written
func (w *CSVWriter) Path() string {
	return w.path
}

// lineEndings folds carriage returns to plain newlines, the only line break a
// CSV reader gives back inside a quoted field.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Write appends the complete records one at a time. Incomplete records are
// skipped with a warning. Line breaks are stored as "\n".
func (w *CSVWriter) Write(records ...types.ArticleRecord) (Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stats Stats
	for _, rec := range records {
		if missing := rec.Missing(); len(missing) > 0 {
			w.logger.Warn("skipping incomplete record", "title", rec.Title, "missing", strings.Join(missing, ","))
			stats.Skipped++
			continue
		}
		row := rec.Fields()
		for i := range row {
			row[i] = lineEndings.Replace(row[i])
		}
		if err := w.flushRow(row); err != nil {
			return stats, fmt.Errorf("failed to write record to %s: %w", w.path, err)
		}
		stats.Written++
	}
	return stats, nil
}

// Close flushes and closes the file
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := errors.Join(w.csv.Error(), w.file.Close())
	w.file = nil
	return err
}

func (w *CSVWriter) flushRow(row []string) error {
	if w.file == nil {
		return os.ErrClosed
	}
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// ReadRecords loads the records of a file written by CSVWriter, header excluded
func ReadRecords(path string) ([]types.ArticleRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(types.FieldNames)

	var records []types.ArticleRecord
	for first := true; ; first = false {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if first {
			continue
		}
		records = append(records, types.ArticleRecord{
			Title:     row[0],
			Source:    row[1],
			Published: row[2],
			Body:      row[3],
		})
	}
	return records, nil
}

// FileName derives a safe output file name from a target name
func FileName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	unsafe := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " ", "."}
	for _, char := range unsafe {
		name = strings.ReplaceAll(name, char, "_")
	}
	if name == "" {
		name = "articles"
	}
	return name + "_data.csv"
}
