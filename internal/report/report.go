// Package report aggregates a session's attendance records.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"attendance-bot/internal/models"
)

var csvHeader = []string{"Full Name", "Status", "Timestamp"}

type Summary struct {
	Counts map[models.Status]int
	Total  int
}

func Summarize(records []models.RecordRow) Summary {
	s := Summary{Counts: make(map[models.Status]int, len(models.Statuses))}
	for _, r := range records {
		s.Counts[r.Status]++
		s.Total++
	}
	return s
}

// Text renders the summary notice for a session.
func Text(sess *models.Session, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report for %s (id=%d, date=%s)\n", sess.Title, sess.ID, sess.DateString())

	if s.Total == 0 {
		b.WriteString("No records yet")
		return b.String()
	}

	for _, st := range models.Statuses {
		if n := s.Counts[st]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", st, n)
		}
	}
	fmt.Fprintf(&b, "total: %d", s.Total)
	return b.String()
}

// WriteCSV writes one row per record in the order given, after the header.
func WriteCSV(w io.Writer, records []models.RecordRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{r.DisplayName, string(r.Status), r.MarkedAt.UTC().Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV renders the export document body.
func CSV(records []models.RecordRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func FileName(sessionID int64) string {
	return fmt.Sprintf("attendance_session_%d.csv", sessionID)
}
