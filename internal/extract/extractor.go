package extract

// Extractor converts fetched markup into plain text scoped by an optional
// selector. Implementations must be pure and must not fail on bad markup.
type Extractor interface {
	Extract(input []byte, selector string) string
}

// SelectorExtractor strips boilerplate and scopes by CSS selector using Text.
type SelectorExtractor struct{}

func (SelectorExtractor) Extract(input []byte, selector string) string {
	return Text(string(input), selector)
}
