package extractor

import (
	"log/slog"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/use-agent/pluck/models"
)

// newMarkdownConverter creates a reusable, goroutine-safe Converter.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// addMarkdown fills Markdown for every element from its inner HTML. Relative
// links are resolved against pageURL. A conversion failure leaves that
// element's Markdown empty.
func (e *Extractor) addMarkdown(elems []models.ExtractedElement, pageURL string) {
	for i := range elems {
		md, err := e.md.ConvertString(elems[i].InnerHTML, converter.WithDomain(pageURL))
		if err != nil {
			slog.Warn("markdown conversion failed", "url", pageURL, "index", i, "error", err)
			continue
		}
		elems[i].Markdown = md
	}
}
