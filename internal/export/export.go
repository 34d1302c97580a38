// Package export renders the member roster as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/xuri/excelize/v2"

	"gymledger/internal/membership"
)

const membersSheet = "Members"

var header = []any{
	"ID",
	"Name",
	"Email",
	"Phone",
	"Membership type",
	"Enrolled",
	"Expires",
	"Total fee",
	"Paid",
	"Due",
	"Status",
}

// MembersXLSX writes one row per member to w as an XLSX workbook. Amounts and
// status are those derived for asOf.
func MembersXLSX(w io.Writer, members iter.Seq[*membership.Member], asOf time.Time) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), membersSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Member roster",
		Subject: "Members as of " + asOf.UTC().Format(time.DateOnly),
		Created: asOf.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("set document properties: %w", err)
	}

	if err := f.SetSheetRow(membersSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetColWidth(membersSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(membersSheet, "B", "K", 16); err != nil {
		return err
	}

	row := 2
	for m := range members {
		cells := []any{
			m.ID.String(),
			m.Name,
			m.Email,
			m.Phone,
			m.MembershipType,
			m.EnrolledAt.Format(time.DateOnly),
			m.ExpiresAt.Format(time.DateOnly),
			m.TotalFee.InexactFloat64(),
			m.AmountPaid.InexactFloat64(),
			m.AmountDue.InexactFloat64(),
			string(m.Status),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(membersSheet, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
