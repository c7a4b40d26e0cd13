// Package report renders meeting analyses as Word documents and HTML
// previews.
package report

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/cybeform/cybemeeting/internal/errors"
)

// Brand colors used across the document, hex without leading '#'.
const (
	colorPrimary   = "4F46E5"
	colorSecondary = "7C3AED"
	colorRed       = "EF4444"
	colorOrange    = "F59E0B"
	colorGreen     = "10B981"
	colorHeaderBG  = "F1F5F9"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func esc(s string) string { return xmlEscaper.Replace(s) }

// document accumulates WordprocessingML body content and packages it as a
// .docx archive.
type document struct {
	body       strings.Builder
	headerText string
	footerText string
}

func newDocument(headerText, footerText string) *document {
	return &document{headerText: headerText, footerText: footerText}
}

// runProps holds the subset of run formatting the reports use.
type runProps struct {
	bold     bool
	italic   bool
	color    string // hex without '#', empty for default
	sizePt   int    // font size in points, 0 for default
	fontName string
}

func (r runProps) xml() string {
	var b strings.Builder
	b.WriteString("<w:rPr>")
	font := r.fontName
	if font == "" {
		font = "Arial"
	}
	fmt.Fprintf(&b, `<w:rFonts w:ascii="%s" w:hAnsi="%s"/>`, font, font)
	if r.bold {
		b.WriteString("<w:b/>")
	}
	if r.italic {
		b.WriteString("<w:i/>")
	}
	if r.color != "" {
		fmt.Fprintf(&b, `<w:color w:val="%s"/>`, r.color)
	}
	if r.sizePt > 0 {
		// w:sz is expressed in half points.
		fmt.Fprintf(&b, `<w:sz w:val="%d"/><w:szCs w:val="%d"/>`, r.sizePt*2, r.sizePt*2)
	}
	b.WriteString("</w:rPr>")
	return b.String()
}

type paraProps struct {
	style       string // paragraph style id, e.g. "Heading1"
	centered    bool
	indentTwips int
}

func (p paraProps) xml() string {
	if p.style == "" && !p.centered && p.indentTwips == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<w:pPr>")
	if p.style != "" {
		fmt.Fprintf(&b, `<w:pStyle w:val="%s"/>`, p.style)
	}
	if p.indentTwips > 0 {
		fmt.Fprintf(&b, `<w:ind w:left="%d"/>`, p.indentTwips)
	}
	if p.centered {
		b.WriteString(`<w:jc w:val="center"/>`)
	}
	b.WriteString("</w:pPr>")
	return b.String()
}

func (d *document) paragraph(text string, pp paraProps, rp runProps) {
	d.body.WriteString("<w:p>")
	d.body.WriteString(pp.xml())
	if text != "" {
		d.body.WriteString("<w:r>")
		d.body.WriteString(rp.xml())
		fmt.Fprintf(&d.body, `<w:t xml:space="preserve">%s</w:t>`, esc(text))
		d.body.WriteString("</w:r>")
	}
	d.body.WriteString("</w:p>")
}

func (d *document) heading(text string, level int) {
	d.paragraph(text, paraProps{style: fmt.Sprintf("Heading%d", level)}, runProps{})
}

func (d *document) para(text string) {
	d.paragraph(text, paraProps{}, runProps{})
}

func (d *document) spacer() {
	d.para("")
}

func (d *document) pageBreak() {
	d.body.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
}

// tableCell carries the text and run formatting of one table cell.
type tableCell struct {
	text   string
	bold   bool
	color  string
	sizePt int
}

func cell(text string) tableCell { return tableCell{text: text} }

// table writes a bordered table with a shaded, bold header row.
func (d *document) table(headers []string, rows [][]tableCell) {
	d.body.WriteString("<w:tbl>")
	d.body.WriteString(`<w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/>` +
		`<w:tblBorders>` +
		`<w:top w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
		`<w:left w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
		`<w:bottom w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
		`<w:right w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
		`<w:insideH w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
		`<w:insideV w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
		`</w:tblBorders></w:tblPr>`)

	d.body.WriteString("<w:tr>")
	for _, h := range headers {
		fmt.Fprintf(&d.body,
			`<w:tc><w:tcPr><w:shd w:val="clear" w:color="auto" w:fill="%s"/></w:tcPr>`, colorHeaderBG)
		d.body.WriteString("<w:p><w:pPr><w:jc w:val=\"center\"/></w:pPr><w:r>")
		d.body.WriteString(runProps{bold: true, color: colorPrimary}.xml())
		fmt.Fprintf(&d.body, `<w:t xml:space="preserve">%s</w:t>`, esc(h))
		d.body.WriteString("</w:r></w:p></w:tc>")
	}
	d.body.WriteString("</w:tr>")

	for _, row := range rows {
		d.body.WriteString("<w:tr>")
		for _, c := range row {
			d.body.WriteString("<w:tc><w:tcPr/><w:p><w:r>")
			d.body.WriteString(runProps{bold: c.bold, color: c.color, sizePt: c.sizePt}.xml())
			fmt.Fprintf(&d.body, `<w:t xml:space="preserve">%s</w:t>`, esc(c.text))
			d.body.WriteString("</w:r></w:p></w:tc>")
		}
		d.body.WriteString("</w:tr>")
	}
	d.body.WriteString("</w:tbl>")
	d.spacer()
}

// write packages the accumulated content as a docx archive.
func (d *document) write(w io.Writer) error {
	zw := zip.NewWriter(w)

	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", packageRelsXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/styles.xml", stylesXML},
		{"word/header1.xml", headerXML(d.headerText)},
		{"word/footer1.xml", footerXML(d.footerText)},
		{"word/document.xml", d.documentXML()},
	}

	for _, part := range parts {
		f, err := zw.Create(part.name)
		if err != nil {
			return errors.New(err).
				Component("report").
				Category(errors.CategoryReport).
				Context("part", part.name).
				Build()
		}
		if _, err := io.WriteString(f, part.content); err != nil {
			return errors.New(err).
				Component("report").
				Category(errors.CategoryReport).
				Context("part", part.name).
				Build()
		}
	}

	if err := zw.Close(); err != nil {
		return errors.New(err).
			Component("report").
			Category(errors.CategoryReport).
			Context("operation", "close_archive").
			Build()
	}
	return nil
}

func (d *document) documentXML() string {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<w:document ` + wNamespaces + `><w:body>`)
	b.WriteString(d.body.String())
	b.WriteString(`<w:sectPr>` +
		`<w:headerReference w:type="default" r:id="rId2"/>` +
		`<w:footerReference w:type="default" r:id="rId3"/>` +
		`<w:pgSz w:w="11906" w:h="16838"/>` +
		`<w:pgMar w:top="1417" w:right="1417" w:bottom="1417" w:left="1417" w:header="708" w:footer="708" w:gutter="0"/>` +
		`</w:sectPr>`)
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const wNamespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`

const contentTypesXML = xmlHeader +
	`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`<Override PartName="/word/header1.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.header+xml"/>` +
	`<Override PartName="/word/footer1.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.footer+xml"/>` +
	`</Types>`

const packageRelsXML = xmlHeader +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const documentRelsXML = xmlHeader +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/header" Target="header1.xml"/>` +
	`<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/footer" Target="footer1.xml"/>` +
	`</Relationships>`

var stylesXML = xmlHeader +
	`<w:styles ` + wNamespaces + `>` +
	`<w:docDefaults><w:rPrDefault><w:rPr>` +
	`<w:rFonts w:ascii="Arial" w:hAnsi="Arial"/><w:sz w:val="22"/><w:szCs w:val="22"/>` +
	`</w:rPr></w:rPrDefault></w:docDefaults>` +
	styleDef("Title", "Titre", 24, colorPrimary) +
	styleDef("Heading1", "Titre 1", 14, colorPrimary) +
	styleDef("Heading2", "Titre 2", 12, colorPrimary) +
	styleDef("Heading3", "Titre 3", 10, colorPrimary) +
	`<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr/></w:style>` +
	`</w:styles>`

func styleDef(id, name string, sizePt int, color string) string {
	return fmt.Sprintf(
		`<w:style w:type="paragraph" w:styleId="%s"><w:name w:val="%s"/>`+
			`<w:pPr><w:spacing w:before="240" w:after="120"/></w:pPr>`+
			`<w:rPr><w:rFonts w:ascii="Arial" w:hAnsi="Arial"/><w:b/>`+
			`<w:color w:val="%s"/><w:sz w:val="%d"/><w:szCs w:val="%d"/></w:rPr></w:style>`,
		id, name, color, sizePt*2, sizePt*2)
}

func headerXML(text string) string {
	return xmlHeader +
		`<w:hdr ` + wNamespaces + `><w:p><w:r>` +
		runProps{color: colorPrimary, sizePt: 10}.xml() +
		`<w:t xml:space="preserve">` + esc(text) + `</w:t></w:r></w:p></w:hdr>`
}

func footerXML(text string) string {
	return xmlHeader +
		`<w:ftr ` + wNamespaces + `><w:p><w:pPr><w:jc w:val="center"/></w:pPr><w:r>` +
		runProps{sizePt: 9}.xml() +
		`<w:t xml:space="preserve">` + esc(text) + `</w:t></w:r></w:p></w:ftr>`
}
