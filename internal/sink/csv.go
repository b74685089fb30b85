// Package sink contains the consumers of the metric stream: the
// session-scoped CSV log and the live console printer.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/zonelog/internal/metric"
)

// csvTimeLayout matches the run-file naming scheme.
const csvTimeLayout = "20060102-1504"

var csvHeader = []string{"timestamp", "speed_kph", "incline_percent", "distance_m", "hr_bpm", "battery_percent"}

// CSVWriter appends one row per metric event to a file named by the run's
// start time. Treadmill and heart-rate columns are merged from the latest
// event of each family so every row is a complete picture.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	logger *logrus.Logger

	lastTreadmill *metric.TreadmillSample
	lastHeartRate *metric.HeartRateSample
}

// NewCSVWriter creates `<start>.csv` in dir and writes the header.
func NewCSVWriter(dir string, start time.Time, logger *logrus.Logger) (*CSVWriter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	path := filepath.Join(dir, start.Format(csvTimeLayout)+".csv")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create CSV log: %w", err)
	}
	w := &CSVWriter{
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger,
	}
	if err := w.writer.Write(csvHeader); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write CSV header: %w", err)
	}
	w.writer.Flush()
	logger.WithField("path", path).Info("Logging data to CSV")
	return w, nil
}

// Path returns the log file location.
func (w *CSVWriter) Path() string {
	return w.file.Name()
}

// Append writes one row for the event.
func (w *CSVWriter) Append(ev metric.Event) error {
	switch {
	case ev.Treadmill != nil:
		w.lastTreadmill = ev.Treadmill
	case ev.HeartRate != nil:
		w.lastHeartRate = ev.HeartRate
	default:
		return nil
	}

	row := []string{ev.CapturedAt().Format(time.RFC3339), "", "", "", "", ""}
	if t := w.lastTreadmill; t != nil {
		row[1] = strconv.FormatFloat(t.SpeedKPH, 'f', 2, 64)
		row[2] = strconv.FormatFloat(t.InclinePercent, 'f', 1, 64)
		row[3] = strconv.FormatFloat(t.DistanceM, 'f', 0, 64)
	}
	if h := w.lastHeartRate; h != nil {
		row[4] = strconv.FormatUint(uint64(h.BPM), 10)
		if h.BatteryPercent != nil {
			row[5] = strconv.FormatUint(uint64(*h.BatteryPercent), 10)
		}
	}
	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("append CSV row: %w", err)
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the file.
func (w *CSVWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
