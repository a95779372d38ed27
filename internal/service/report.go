package service

import (
	"context"
	"fmt"
	"time"

	"libcirc/internal/domain"

	"github.com/xuri/excelize/v2"
)

type LoanColumn struct {
	Header string
	Value  func(l domain.Loan) any
}

var loanColumns = map[string]LoanColumn{
	"id":        {Header: "Loan ID", Value: func(l domain.Loan) any { return l.ID.String() }},
	"book_id":   {Header: "Book ID", Value: func(l domain.Loan) any { return l.BookID.String() }},
	"user_id":   {Header: "User ID", Value: func(l domain.Loan) any { return l.UserID.String() }},
	"status":    {Header: "Status", Value: func(l domain.Loan) any { return string(l.Status) }},
	"requested_at": {Header: "Requested", Value: func(l domain.Loan) any { return l.RequestedAt }},
	"borrowed_at": {Header: "Borrowed", Value: func(l domain.Loan) any { return timePtr(l.BorrowedAt) }},
	"expected_return_date": {Header: "Due", Value: func(l domain.Loan) any { return timePtr(l.ExpectedReturnDate) }},
	"returned_at": {Header: "Returned", Value: func(l domain.Loan) any { return timePtr(l.ReturnedAt) }},
	"auto_fine":   {Header: "Auto fine", Value: func(l domain.Loan) any { return l.AutoFine }},
	"manual_fine": {Header: "Manual fine", Value: func(l domain.Loan) any { return l.ManualFine }},
	"total_fine":  {Header: "Total fine", Value: func(l domain.Loan) any { return l.TotalFine }},
	"fine_payment_status": {Header: "Fine status", Value: func(l domain.Loan) any { return string(l.FinePaymentStatus) }},
}

var defaultLoanReportFields = []string{
	"id", "book_id", "user_id", "status",
	"requested_at", "borrowed_at", "expected_return_date", "returned_at",
	"auto_fine", "manual_fine", "total_fine", "fine_payment_status",
}

type LoanLister interface {
	ListAll(ctx context.Context) ([]domain.Loan, error)
}

// ReportService builds the admin loans/fines spreadsheet.
type ReportService struct {
	loans LoanLister
}

func NewReportService(loans LoanLister) *ReportService {
	return &ReportService{loans: loans}
}

// BuildLoansReport renders the workbook and returns its bytes plus a
// timestamped filename. Selected fields default to the full column set.
func (s *ReportService) BuildLoansReport(ctx context.Context, selected []string) ([]byte, string, error) {
	if len(selected) == 0 {
		selected = defaultLoanReportFields
	}

	var cols []LoanColumn
	for _, key := range selected {
		col, ok := loanColumns[key]
		if !ok {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, "", fmt.Errorf("no known fields selected")
	}

	loans, err := s.loans.ListAll(ctx)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Loans"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	rowIdx := 2
	for _, l := range loans {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx)
			_ = f.SetCellValue(sheet, cell, col.Value(l))
		}
		rowIdx++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}

	fileName := fmt.Sprintf("loans_%s.xlsx", time.Now().Format("20060102_150405"))
	return buf.Bytes(), fileName, nil
}

func timePtr(t *time.Time) any {
	if t == nil {
		return ""
	}
	return *t
}
