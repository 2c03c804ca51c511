package metrics

// DefaultPricing is the built-in per-million-token pricing table for
// canonical model names, keyed the same way CanonicalizeModel keys its
// output. Prices are dollars per million tokens and track Anthropic's
// published list pricing at the time this table was written; operators
// running against different rates can substitute their own
// PricingLookup.
var DefaultPricing = map[string]Pricing{
	"claude-opus-4":     {InputPerM: 15, OutputPerM: 75, CacheWritePerM: 18.75, CacheReadPerM: 1.5},
	"claude-opus-4-1":   {InputPerM: 15, OutputPerM: 75, CacheWritePerM: 18.75, CacheReadPerM: 1.5},
	"claude-sonnet-4-5": {InputPerM: 3, OutputPerM: 15, CacheWritePerM: 3.75, CacheReadPerM: 0.3},
	"claude-sonnet-4":   {InputPerM: 3, OutputPerM: 15, CacheWritePerM: 3.75, CacheReadPerM: 0.3},
	"claude-3-7-sonnet": {InputPerM: 3, OutputPerM: 15, CacheWritePerM: 3.75, CacheReadPerM: 0.3},
	"claude-3-5-sonnet": {InputPerM: 3, OutputPerM: 15, CacheWritePerM: 3.75, CacheReadPerM: 0.3},
	"claude-3-5-haiku":  {InputPerM: 0.8, OutputPerM: 4, CacheWritePerM: 1, CacheReadPerM: 0.08},
	"claude-3-haiku":    {InputPerM: 0.25, OutputPerM: 1.25, CacheWritePerM: 0.3, CacheReadPerM: 0.03},
	"claude-3-opus":     {InputPerM: 15, OutputPerM: 75, CacheWritePerM: 18.75, CacheReadPerM: 1.5},
}

// LookupDefaultPricing resolves a canonical model name against
// DefaultPricing. It satisfies the PricingLookup signature and is the
// table wired into the daemon's live parse path; unknown models fall
// through to zero cost rather than failing the parse.
func LookupDefaultPricing(canonicalModel string) (Pricing, bool) {
	p, ok := DefaultPricing[canonicalModel]
	return p, ok
}
