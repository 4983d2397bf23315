package invoices

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/rosepetal/storefront/pkg/models"
)

// Document is everything printed on an invoice.
type Document struct {
	Order    *models.Order
	User     *models.User
	Items    []models.OrderItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	IssuedAt time.Time
}

// Renderer writes doc to path.
type Renderer interface {
	Render(path string, doc Document) error
}

type PDFRenderer struct{}

// Render writes to a temporary file next to path and renames it into place,
// so readers never see a half-written invoice.
func (PDFRenderer) Render(path string, doc Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create invoice dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".invoice-*.pdf")
	if err != nil {
		return fmt.Errorf("create temp invoice: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := buildPDF(doc).Output(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("render invoice: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp invoice: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("move invoice into place: %w", err)
	}
	return nil
}

func buildPDF(doc Document) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Invoice %d", doc.Order.ID), true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "INVOICE", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Order #%d", doc.Order.ID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Order date: "+doc.Order.CreatedAt.Format("2006-01-02"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Issued: "+doc.IssuedAt.Format("2006-01-02"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, "Bill to", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	if doc.User != nil {
		pdf.CellFormat(0, 6, doc.User.Username, "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 6, doc.User.Email, "", 1, "L", false, 0, "")
		if doc.User.PhoneNumber != "" {
			pdf.CellFormat(0, 6, doc.User.PhoneNumber, "", 1, "L", false, 0, "")
		}
	}
	if doc.Order.ShippingAddress != "" {
		pdf.MultiCell(0, 6, doc.Order.ShippingAddress, "", "L", false)
	}
	pdf.Ln(6)

	widths := []float64{90, 25, 35, 40}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(230, 230, 230)
	for i, title := range []string{"Product", "Qty", "Unit price", "Amount"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 8, title, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 11)
	for _, item := range doc.Items {
		name := item.ProductName
		if name == "" {
			name = fmt.Sprintf("Product #%d", item.ProductID)
		}
		pdf.CellFormat(widths[0], 7, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, item.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, item.LineTotal().StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	label := widths[0] + widths[1] + widths[2]
	totals := []struct {
		name  string
		value decimal.Decimal
	}{
		{"Subtotal", doc.Subtotal},
		{fmt.Sprintf("Tax (%s%%)", TaxRate.Mul(decimal.NewFromInt(100)).String()), doc.Tax},
		{"Total", doc.Total},
	}
	for i, row := range totals {
		if i == len(totals)-1 {
			pdf.SetFont("Helvetica", "B", 11)
		}
		pdf.CellFormat(label, 7, row.name, "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, row.value.StringFixed(2), "", 1, "R", false, 0, "")
	}
	return pdf
}
