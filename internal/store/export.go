package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/agentevolve/evocore/internal/store/errs"
)

// ExportFormat selects ExportData's output encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// exportTables lists the tables ExportData writes, in export order.
var exportTables = []string{
	"tasks", "executions", "spans", "patterns", "adaptations", "rewards",
}

// ExportData writes every tracked table to w in the requested format. JSON
// produces one object keyed by table name; CSV produces one section per
// table, headed by a "# table_name" marker line.
func (s *Store) ExportData(w io.Writer, format ExportFormat) error {
	switch format {
	case ExportJSON:
		return s.exportJSON(w)
	case ExportCSV:
		return s.exportCSV(w)
	default:
		return errs.Validationf("format", []string{string(ExportJSON), string(ExportCSV)}, "unknown export format %q", format)
	}
}

func (s *Store) exportJSON(w io.Writer) error {
	out := make(map[string][]map[string]interface{}, len(exportTables))
	total := 0
	for _, table := range exportTables {
		rows, err := s.dumpTable(table)
		if err != nil {
			return err
		}
		out[table] = rows
		total += len(rows)
	}
	log.Printf("[STORE] exporting %s rows across %d tables as json", humanize.Comma(int64(total)), len(exportTables))

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return errs.Storagef(err, "encode export")
	}
	return nil
}

func (s *Store) exportCSV(w io.Writer) error {
	total := 0
	for _, table := range exportTables {
		rows, err := s.dumpTable(table)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "# %s\n", table); err != nil {
			return errs.Storagef(err, "write csv section header")
		}
		if err := writeCSVRows(w, rows); err != nil {
			return err
		}
		total += len(rows)
	}
	log.Printf("[STORE] exporting %s rows across %d tables as csv", humanize.Comma(int64(total)), len(exportTables))
	return nil
}

func writeCSVRows(w io.Writer, rows []map[string]interface{}) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if len(rows) == 0 {
		return nil
	}
	header := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		header = append(header, col)
	}
	if err := cw.Write(header); err != nil {
		return errs.Storagef(err, "write csv header")
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = fmt.Sprintf("%v", row[col])
		}
		if err := cw.Write(record); err != nil {
			return errs.Storagef(err, "write csv row")
		}
	}
	return cw.Error()
}

// dumpTable reads every column of every row in table as a generic map,
// using database/sql's driver-agnostic Columns/Scan path since each table
// has a different shape.
func (s *Store) dumpTable(table string) ([]map[string]interface{}, error) {
	rows, err := s.db.Query("SELECT * FROM " + table)
	if err != nil {
		return nil, errs.Storagef(err, "dump table %s", table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.Storagef(err, "read columns for %s", table)
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Storagef(err, "scan row in %s", table)
		}
		rowMap := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			rowMap[col] = vals[i]
		}
		out = append(out, rowMap)
	}
	return out, rows.Err()
}
