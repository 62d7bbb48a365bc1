package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text page by page with ledongthuc/pdf.
type PDF struct{}

func (PDF) Extract(ctx context.Context, data []byte) (res Result, err error) {
	if len(data) == 0 {
		return Result{}, &ExtractionError{MIMEType: MIMEPDF, Reason: "empty document"}
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{}
			err = &ExtractionError{MIMEType: MIMEPDF, Reason: "malformed pdf", Err: fmt.Errorf("%v", rec)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, &ExtractionError{MIMEType: MIMEPDF, Reason: "not a parseable pdf", Err: err}
	}

	var textBuilder strings.Builder
	numPages := reader.NumPage()
	offsets := make([]int, 0, numPages)

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		offsets = append(offsets, textBuilder.Len())
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return Result{Text: textBuilder.String(), PageCount: numPages, PageOffsets: offsets}, nil
}
