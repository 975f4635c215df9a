package server

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

const passTimeLayout = "2006-01-02 15:04 MST"

// RenderQR は予約トークンのQRコードをPNGで返します
func RenderQR(token string, size int) ([]byte, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}

// RenderPass はゲートで提示する駐車券をPDFで返します
func RenderPass(r *model.Reservation, space *model.Space) ([]byte, error) {
	qrPNG, err := RenderQR(r.BookingToken, 256)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Parking Pass")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 12)
	lines := []string{
		fmt.Sprintf("Reservation: %s", r.ID),
		fmt.Sprintf("Space: %s", tr(space.Title)),
		fmt.Sprintf("From: %s", r.Interval.Start.Format(passTimeLayout)),
		fmt.Sprintf("Until: %s", r.Interval.End.Format(passTimeLayout)),
		fmt.Sprintf("Vehicle: %s (%s)", tr(r.Vehicle.LicensePlate), r.Vehicle.Type),
		fmt.Sprintf("Total: %.2f", r.Pricing.Total),
		fmt.Sprintf("Status: %s", r.Status),
	}
	for _, line := range lines {
		pdf.Cell(0, 10, line)
		pdf.Ln(8)
	}

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 30, 40, 40, false, imageOpts, 0, "")

	pdf.Ln(12)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 10, fmt.Sprintf("Booking token: %s", r.BookingToken))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pass: %w", err)
	}
	return buf.Bytes(), nil
}
