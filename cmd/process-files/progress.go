package main

import (
	"fmt"
	"io"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/service"
)

// printer печатает ход пакетной обработки построчно.
type printer struct {
	w io.Writer
}

var _ service.Progress = (*printer)(nil)

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) BatchStarted(total int) {
	fmt.Fprintf(p.w, "Found %d files to process\n", total)
}

func (p *printer) FileStarted(rec *model.FileRecord) {
	fmt.Fprintf(p.w, "Processing file: %s\n", rec.DisplayName)
}

func (p *printer) FileFinished(res service.ProcessResult) {
	switch res.Status {
	case service.ResultSuccess:
		fmt.Fprintf(p.w, "Successfully processed file %s\n", res.FileName)
	case service.ResultSkipped:
		fmt.Fprintf(p.w, "Skipped file %s: already taken by another run\n", res.FileName)
	default:
		fmt.Fprintf(p.w, "Error processing file %s: %s\n", res.FileName, res.Error)
	}
}

// printSummary — итоговая строка текстового режима.
func printSummary(w io.Writer, report *service.BatchReport) {
	fmt.Fprintln(w, report.Message())
	if report.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d files\n", report.Skipped)
	}
}
