// Package providers implements the vendor clients the router fronts:
// Google Gemini through the genai SDK, and OpenAI-compatible endpoints
// (Volcano Ark, DeepSeek) through the eino openai component. Every
// vendor failure is wrapped into schema.ProviderError so classification
// stays vendor-agnostic.
package providers

const (
	// DefaultGoogleModel is the Gemini model used when none is configured.
	DefaultGoogleModel = "gemini-2.5-pro"

	// DefaultArkBaseURL is the Volcano Ark OpenAI-compatible endpoint.
	DefaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

	// DefaultArkModel is the Doubao model used when none is configured.
	DefaultArkModel = "doubao-seed-1-6-250615"
)
