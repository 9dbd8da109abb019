package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/warp/dues-engine/generic"
)

var monthNames = [...]string{
	"", "Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

func monthLabel(m time.Month, year int) string {
	if m < time.January || m > time.December {
		return fmt.Sprintf("%02d/%d", int(m), year)
	}
	return fmt.Sprintf("%s %d", monthNames[m], year)
}

// BuildDuesXLSX renders dues as a workbook with a detail sheet and a
// per-estado summary. Mora is evaluated on asOf like the JSON listing.
func BuildDuesXLSX(list []generic.MonthlyDue, asOf generic.TimePoint) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const detailSheet = "Mensualidades"
	const summarySheet = "Resumen"
	if err := f.SetSheetName("Sheet1", detailSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	headers := []string{
		"ID", "Estudiante", "Año escolar", "Mes", "Vencimiento", "Estado",
		"Base USD", "Base VES", "Mora USD", "Mora VES", "Total USD", "Total VES",
	}
	for i, title := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(detailSheet, cell, title)
	}

	type totals struct {
		count int
		owed  generic.Amounts
	}
	byEstado := map[generic.Estado]*totals{}
	for _, e := range []generic.Estado{generic.EstadoPendiente, generic.EstadoReportado, generic.EstadoPagado, generic.EstadoAnulado} {
		byEstado[e] = &totals{owed: generic.Amounts{}.Normalize()}
	}

	for i, due := range list {
		mora, _ := dueMora(due, asOf)
		total := due.UpdatedBase.Add(mora)
		values := []any{
			string(due.ID), string(due.StudentID), string(due.PeriodID), monthLabel(due.Month, due.Year),
			due.DueDate.String(), string(due.Estado),
			number(due.UpdatedBase.USD), number(due.UpdatedBase.VES),
			number(mora.USD), number(mora.VES),
			number(total.USD), number(total.VES),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(detailSheet, cell, v)
		}

		if t, ok := byEstado[due.Estado]; ok {
			t.count++
			t.owed = t.owed.Add(total)
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Reporte de mensualidades")
	_ = f.SetCellValue(summarySheet, "A2", "Fecha de corte")
	_ = f.SetCellValue(summarySheet, "B2", asOf.String())
	_ = f.SetCellValue(summarySheet, "A4", "Estado")
	_ = f.SetCellValue(summarySheet, "B4", "Cantidad")
	_ = f.SetCellValue(summarySheet, "C4", "Monto USD")
	_ = f.SetCellValue(summarySheet, "D4", "Monto VES")
	row := 5
	for _, e := range []generic.Estado{generic.EstadoPendiente, generic.EstadoReportado, generic.EstadoPagado, generic.EstadoAnulado} {
		t := byEstado[e]
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(e))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), t.count)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), t.owed.USD.Major())
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), t.owed.VES.Major())
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// number is a money cell; the workbook is a report, never read back.
func number(m generic.Money) float64 { return m.Decimal().InexactFloat64() }

// BuildReceiptPDF renders the receipt of a settled payment from its snapshot.
func BuildReceiptPDF(p generic.Payment, due generic.MonthlyDue) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Recibo "+string(p.ID), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, tr("Recibo de pago de mensualidad"))
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Recibo: %s", p.ID),
		fmt.Sprintf("Estudiante: %s", p.StudentID),
		fmt.Sprintf("Año escolar: %s", due.PeriodID),
		fmt.Sprintf("Mensualidad: %s", monthLabel(p.Snapshot.Month, p.Snapshot.Year)),
		fmt.Sprintf("Método: %s", p.Method),
		fmt.Sprintf("Referencia: %s", p.Referencia),
		fmt.Sprintf("Evaluado el: %s", p.Snapshot.EvaluatedOn),
	}
	if p.ResolvedAt != nil {
		lines = append(lines, fmt.Sprintf("Conciliado: %s", p.ResolvedAt.UTC().Format("2006-01-02 15:04")))
	}
	for _, line := range lines {
		pdf.Cell(0, 6, tr(line))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Concepto", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, "USD", "1", 0, "R", false, 0, "")
	pdf.CellFormat(50, 6, "VES", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	rows := []struct {
		label  string
		amount generic.Amounts
	}{
		{"Mensualidad", p.Snapshot.PriceApplied},
		{fmt.Sprintf("Mora (%s)", p.Snapshot.PenaltyRateApplied), p.Snapshot.PenaltyApplied},
		{"Descuento", p.Descuento},
		{"Total pagado", p.Monto},
	}
	for _, row := range rows {
		pdf.CellFormat(70, 6, tr(row.label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, row.amount.USD.Major(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, row.amount.VES.Major(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
