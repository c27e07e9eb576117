package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grantdesk/internal/domain"

	"github.com/go-pdf/fpdf"
)

const (
	pageMargin    = 18.0
	lineHeight    = 5.5
	sectionGap    = 4.0
	labelWidth    = 42.0
	producerName  = "grantdesk"
	defaultAccent = "#1F4E79"
)

// Builder renders monthly reports. Output depends only on its inputs:
// document dates are pinned to the submission time and the catalog is
// written in sorted order, so identical inputs give identical bytes.
type Builder struct {
	// Compress content streams. Left off so field text stays searchable, as
	// UTF-16BE, in the raw bytes.
	Compress bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Build(payload domain.ReportPayload, dc domain.DocumentContext) ([]byte, error) {
	if dc.SubmittedAt.IsZero() {
		return nil, errors.New("submission timestamp is required")
	}
	if missing := payload.MissingRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	payload = payload.Normalized()
	submitted := dc.SubmittedAt.UTC().Truncate(time.Second)
	if _, err := loadFonts(); err != nil {
		return nil, err
	}
	if err := checkRenderable(payload, dc); err != nil {
		return nil, err
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(b.Compress)
	doc.SetCatalogSort(true)
	doc.SetCreationDate(submitted)
	doc.SetModificationDate(submitted)
	doc.SetProducer(producerName, false)
	doc.SetCreator(producerName, false)
	doc.SetTitle(reportTitle(dc), true)
	doc.SetAuthor(dc.Subject.FullName, true)
	doc.SetSubject(dc.Project.Code+" "+dc.Period.Label(), true)
	doc.SetMargins(pageMargin, pageMargin+6, pageMargin)
	doc.SetAutoPageBreak(true, pageMargin+4)
	doc.AliasNbPages("{nb}")
	registerFonts(doc)

	tr := func(s string) string { return strings.ReplaceAll(s, "\t", "    ") }
	r, g, bl := parseHexColor(dc.Organization.AccentColor)

	doc.SetHeaderFunc(func() {
		doc.SetFillColor(r, g, bl)
		doc.Rect(0, 0, 210, 4, "F")
		doc.SetY(8)
		doc.SetFont(fontFamily, "B", 9)
		doc.SetTextColor(r, g, bl)
		doc.CellFormat(0, 5, tr(headerLine(dc.Organization)), "", 1, "L", false, 0, "")
		doc.SetTextColor(0, 0, 0)
		doc.Ln(2)
	})
	doc.SetFooterFunc(func() {
		doc.SetY(-14)
		doc.SetFont(fontFamily, "", 8)
		doc.SetTextColor(110, 110, 110)
		left := tr(dc.Project.Code + " / " + dc.Subject.ID + " / " + dc.Period.Label())
		doc.CellFormat(120, 4, left, "", 0, "L", false, 0, "")
		doc.CellFormat(0, 4, "Page "+strconv.Itoa(doc.PageNo())+" of {nb}", "", 0, "R", false, 0, "")
		doc.SetTextColor(0, 0, 0)
	})

	doc.AddPage()

	doc.SetFont(fontFamily, "B", 15)
	doc.MultiCell(0, 8, tr(reportTitle(dc)), "", "L", false)
	doc.Ln(sectionGap)

	doc.SetFont(fontFamily, "", 10)
	for _, row := range identityRows(dc, submitted) {
		doc.SetFont(fontFamily, "B", 10)
		doc.CellFormat(labelWidth, lineHeight, tr(row[0]), "", 0, "L", false, 0, "")
		doc.SetFont(fontFamily, "", 10)
		doc.MultiCell(0, lineHeight, tr(row[1]), "", "L", false)
	}
	doc.Ln(sectionGap)

	section := func(title, body string) {
		doc.SetFont(fontFamily, "B", 11)
		doc.SetTextColor(r, g, bl)
		doc.CellFormat(0, 7, tr(title), "B", 1, "L", false, 0, "")
		doc.SetTextColor(0, 0, 0)
		doc.Ln(1)
		doc.SetFont(fontFamily, "", 10)
		if strings.TrimSpace(body) == "" {
			body = "Not provided."
		}
		for _, para := range splitParagraphs(body) {
			doc.MultiCell(0, lineHeight, tr(para), "", "L", false)
		}
		doc.Ln(sectionGap)
	}

	section("Activities carried out", payload.Activities)
	section("Results achieved", payload.Results)
	section("Difficulties encountered", payload.Difficulties)
	section("Next steps", payload.NextSteps)

	doc.SetFont(fontFamily, "B", 11)
	doc.SetTextColor(r, g, bl)
	doc.CellFormat(0, 7, "Hours and deliverables", "B", 1, "L", false, 0, "")
	doc.SetTextColor(0, 0, 0)
	doc.Ln(1)
	doc.SetFont(fontFamily, "", 10)
	hours := "Not reported"
	if payload.Hours != nil {
		hours = strconv.Itoa(*payload.Hours)
	}
	doc.CellFormat(labelWidth, lineHeight, "Hours dedicated", "", 0, "L", false, 0, "")
	doc.CellFormat(0, lineHeight, hours, "", 1, "L", false, 0, "")
	if len(payload.Deliverables) == 0 {
		doc.CellFormat(0, lineHeight, "No deliverables listed.", "", 1, "L", false, 0, "")
	}
	for i, d := range payload.Deliverables {
		doc.CellFormat(8, lineHeight, strconv.Itoa(i+1)+".", "", 0, "R", false, 0, "")
		doc.MultiCell(0, lineHeight, tr(d), "", "L", false)
	}
	doc.Ln(sectionGap)

	section("Remarks", payload.Remarks)

	doc.SetFont(fontFamily, "B", 11)
	doc.CellFormat(0, 7, "Declaration", "B", 1, "L", false, 0, "")
	doc.Ln(1)
	doc.SetFont(fontFamily, "I", 10)
	doc.MultiCell(0, lineHeight, tr(Declaration(dc.Subject, submitted)), "", "L", false)

	if doc.Err() {
		return nil, fmt.Errorf("render report: %w", doc.Error())
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return buf.Bytes(), nil
}

// Declaration is the acceptance statement embedded in every report.
func Declaration(subject domain.Subject, submittedAt time.Time) string {
	name := strings.TrimSpace(subject.FullName)
	if name == "" {
		name = subject.ID
	}
	return fmt.Sprintf(
		"I, %s (subject %s), declare that the information in this report is true and complete. Submitted at %s.",
		name,
		subject.ID,
		submittedAt.UTC().Format(time.RFC3339),
	)
}

// checkRenderable rejects text with characters the embedded fonts cannot
// draw. Rendering them would drop them silently, so the document would no
// longer carry what was submitted.
func checkRenderable(payload domain.ReportPayload, dc domain.DocumentContext) error {
	fields := [][2]string{
		{"activities", payload.Activities},
		{"results", payload.Results},
		{"difficulties", payload.Difficulties},
		{"next_steps", payload.NextSteps},
		{"remarks", payload.Remarks},
		{"deliverables", strings.Join(payload.Deliverables, "\n")},
		{"subject", dc.Subject.ID + " " + dc.Subject.FullName},
		{"project", dc.Project.Code + " " + dc.Project.Title},
		{"organization", dc.Organization.Name + " " + dc.Organization.HeaderLine},
	}
	for _, field := range fields {
		if bad := Unsupported(field[1]); len(bad) > 0 {
			return fmt.Errorf("%s contains characters the report fonts cannot render: %q", field[0], string(bad))
		}
	}
	return nil
}

func reportTitle(dc domain.DocumentContext) string {
	return "Monthly report " + dc.Period.LongLabel()
}

func headerLine(org domain.Organization) string {
	if strings.TrimSpace(org.HeaderLine) != "" {
		return org.HeaderLine
	}
	return org.Name
}

func identityRows(dc domain.DocumentContext, submitted time.Time) [][2]string {
	subject := dc.Subject.FullName
	if subject == "" {
		subject = dc.Subject.ID
	}
	project := strings.TrimSpace(dc.Project.Code + " " + dc.Project.Title)
	return [][2]string{
		{"Beneficiary", subject},
		{"Project", project},
		{"Organization", dc.Organization.Name},
		{"Period", dc.Period.Label()},
		{"Submitted at", submitted.Format(time.RFC3339)},
	}
}

func splitParagraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	parts := strings.Split(body, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimRight(p, " \t"))
	}
	return out
}

func parseHexColor(value string) (int, int, int) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(value) != 6 {
		value = strings.TrimPrefix(defaultAccent, "#")
	}
	n, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		n, _ = strconv.ParseUint(strings.TrimPrefix(defaultAccent, "#"), 16, 32)
	}
	return int(n >> 16 & 0xFF), int(n >> 8 & 0xFF), int(n & 0xFF)
}
