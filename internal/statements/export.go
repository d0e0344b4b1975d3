package statements

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// BuildStatementPDF renders a minimal PDF for a monthly statement.
func BuildStatementPDF(statement *MonthlyStatement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Monthly Account Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", statement.AccountID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Market: %s", statement.CreditType))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Month: %s", statement.Month.Format("2006-01")))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Bought (credits): %d", statement.BoughtQuantity))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Sold (credits): %d", statement.SoldQuantity))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Net (credits): %d", statement.NetQuantity))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Fees: %s", statement.Fees.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Net Cash: %s", statement.NetCash.StringFixed(2)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(38, 6, "Executed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Side", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Quantity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Price", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Gross", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Fee", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range statement.Lines {
		pdf.CellFormat(38, 6, line.ExecutedAt.UTC().Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, line.Side, "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, fmt.Sprintf("%d", line.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, line.Price.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(32, 6, line.Gross.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, line.Fee.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a minimal XLSX for a monthly statement.
func BuildStatementXLSX(statement *MonthlyStatement) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	tradesSheet := "trades"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(tradesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Monthly Account Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Account")
	_ = f.SetCellValue(summarySheet, "B3", statement.AccountID)
	_ = f.SetCellValue(summarySheet, "A4", "Market")
	_ = f.SetCellValue(summarySheet, "B4", string(statement.CreditType))
	_ = f.SetCellValue(summarySheet, "A5", "Month")
	_ = f.SetCellValue(summarySheet, "B5", statement.Month.Format("2006-01"))
	_ = f.SetCellValue(summarySheet, "A6", "Bought (credits)")
	_ = f.SetCellValue(summarySheet, "B6", statement.BoughtQuantity)
	_ = f.SetCellValue(summarySheet, "A7", "Sold (credits)")
	_ = f.SetCellValue(summarySheet, "B7", statement.SoldQuantity)
	_ = f.SetCellValue(summarySheet, "A8", "Net (credits)")
	_ = f.SetCellValue(summarySheet, "B8", statement.NetQuantity)
	_ = f.SetCellValue(summarySheet, "A9", "Fees")
	_ = f.SetCellValue(summarySheet, "B9", statement.Fees.StringFixed(2))
	_ = f.SetCellValue(summarySheet, "A10", "Net Cash")
	_ = f.SetCellValue(summarySheet, "B10", statement.NetCash.StringFixed(2))

	_ = f.SetCellValue(tradesSheet, "A1", "Executed")
	_ = f.SetCellValue(tradesSheet, "B1", "Trade ID")
	_ = f.SetCellValue(tradesSheet, "C1", "Side")
	_ = f.SetCellValue(tradesSheet, "D1", "Quantity")
	_ = f.SetCellValue(tradesSheet, "E1", "Price")
	_ = f.SetCellValue(tradesSheet, "F1", "Gross")
	_ = f.SetCellValue(tradesSheet, "G1", "Fee")
	for i, line := range statement.Lines {
		row := i + 2
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("A%d", row), line.ExecutedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("B%d", row), line.TradeID)
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("C%d", row), line.Side)
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("D%d", row), line.Quantity)
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("E%d", row), line.Price.StringFixed(2))
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("F%d", row), line.Gross.StringFixed(2))
		_ = f.SetCellValue(tradesSheet, fmt.Sprintf("G%d", row), line.Fee.StringFixed(2))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
