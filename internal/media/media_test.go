package media

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		name     string
		mime     string
		filename string
		want     Kind
	}{
		{name: "docx by office mime", mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", filename: "report.docx", want: KindWord},
		{name: "xlsx by office mime", mime: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename: "budget.xlsx", want: KindExcel},
		{name: "pdf by mime", mime: "application/pdf", filename: "scan", want: KindPDF},
		{name: "image by mime prefix", mime: "image/png", filename: "photo.bin", want: KindImage},
		{name: "text with charset", mime: "text/plain; charset=utf-8", filename: "a", want: KindText},
		{name: "mime wins over extension", mime: "text/markdown", filename: "notes.pdf", want: KindText},
		{name: "doc by extension", mime: "", filename: "Letter.DOC", want: KindWord},
		{name: "xls by extension", mime: "application/octet-stream", filename: "sheet.xls", want: KindExcel},
		{name: "pdf by extension", mime: "", filename: "x.pdf", want: KindPDF},
		{name: "md by extension", mime: "", filename: "readme.md", want: KindText},
		{name: "unknown", mime: "application/zip", filename: "archive.zip", want: KindOther},
		{name: "no extension", mime: "", filename: "blob", want: KindOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.mime, tc.filename); got != tc.want {
				t.Fatalf("Detect(%q, %q) = %q, want %q", tc.mime, tc.filename, got, tc.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	if got := Extension("Report.Final.DOCX"); got != "docx" {
		t.Fatalf("expected docx, got %q", got)
	}
	if got := Extension("noext"); got != "bin" {
		t.Fatalf("expected bin fallback, got %q", got)
	}
}

func TestPreviewCoversEveryKind(t *testing.T) {
	for _, kind := range Kinds {
		if PreviewFor(kind) == "" {
			t.Fatalf("no preview for %q", kind)
		}
	}
	if PreviewFor(KindText) != PreviewInlineText {
		t.Fatal("text documents should preview inline")
	}
	if Parse("spreadsheet") != KindOther {
		t.Fatal("unknown stored kind should parse as other")
	}
}

func TestLookupRejectsUnknownKinds(t *testing.T) {
	if k, ok := Lookup(" PDF "); !ok || k != KindPDF {
		t.Fatalf("expected pdf, got %q %v", k, ok)
	}
	if _, ok := Lookup("spreadsheet"); ok {
		t.Fatal("expected unknown kind to be rejected")
	}
}
