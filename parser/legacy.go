package parser

import (
	"context"
	"fmt"
)

// LegacyParser rejects the pre-Office-XML formats (.doc/.xls/.ppt) that
// occasionally surface in an old production. NewRegistry does not register
// it: without LlamaParse, .doc and .ppt have no parser and .xls goes to
// XLSXParser; Registry.SetLlamaParse maps all three to LlamaParseParser.
type LegacyParser struct{}

func (p *LegacyParser) SupportedFormats() []string { return []string{"doc", "xls", "ppt"} }

func (p *LegacyParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return nil, fmt.Errorf("legacy format requires external parser (LlamaParse); configure llamaparse in config")
}
