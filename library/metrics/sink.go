package metrics

import (
	"fmt"
	"os"
	"strconv"

	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
)

// LogPrec is precision for saving float values in logs
const LogPrec = 4

// Sink receives all metric events for an epoch, tagged with the epoch
// index, and is told once when the run is over.
type Sink interface {
	LogEpoch(epoch int, events []Event) error
	Finish() error
}

// TableSink accumulates events into an etable.Table, one row per event
// (long format -- metric names differ per component so there is no fixed
// column schema), and optionally streams rows to a TSV file.
type TableSink struct {
	Table        *etable.Table
	File         *os.File `view:"-" desc:"file to stream rows into, may be nil"`
	WroteHeaders bool     `view:"-"`
}

func NewTableSink() *TableSink {
	dt := &etable.Table{}
	dt.SetMetaData("name", "EpochMetricsLog")
	dt.SetMetaData("desc", "Record of metric events per epoch")
	dt.SetMetaData("read-only", "true")
	dt.SetMetaData("precision", strconv.Itoa(LogPrec))
	sch := etable.Schema{
		{Name: "Epoch", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Metric", Type: etensor.STRING, CellShape: nil, DimNames: nil},
		{Name: "Value", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Hist", Type: etensor.STRING, CellShape: nil, DimNames: nil},
	}
	dt.SetFromSchema(sch, 0)
	return &TableSink{Table: dt}
}

// SetLogFile starts streaming logged rows to the named TSV file.
func (ts *TableSink) SetLogFile(fnm string) error {
	f, err := os.Create(fnm)
	if err != nil {
		return fmt.Errorf("metrics: creating log file: %w", err)
	}
	ts.File = f
	return nil
}

func (ts *TableSink) LogEpoch(epoch int, events []Event) error {
	dt := ts.Table
	for _, ev := range events {
		row := dt.Rows
		dt.SetNumRows(row + 1)
		dt.SetCellFloat("Epoch", row, float64(epoch))
		dt.SetCellString("Metric", row, ev.Key())
		dt.SetCellFloat("Value", row, ev.Value)
		if ev.Hist != nil {
			dt.SetCellString("Hist", row, fmt.Sprint(ev.Hist.Values))
		}
		if ts.File != nil {
			if !ts.WroteHeaders {
				dt.WriteCSVHeaders(ts.File, etable.Tab)
				ts.WroteHeaders = true
			}
			dt.WriteCSVRow(ts.File, row, etable.Tab)
		}
	}
	return nil
}

func (ts *TableSink) Finish() error {
	if ts.File != nil {
		err := ts.File.Close()
		ts.File = nil
		return err
	}
	return nil
}
