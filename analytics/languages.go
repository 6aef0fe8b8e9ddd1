package analytics

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// DefaultLanguages is used whenever the backend cannot list its languages.
var DefaultLanguages = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"hi": "Hindi",
}

type languageLister interface {
	Languages(ctx context.Context) (map[string]string, error)
}

// LanguagesOrDefault returns the backend's languages, or a copy of
// DefaultLanguages if the call fails or returns nothing.
func LanguagesOrDefault(ctx context.Context, l languageLister) map[string]string {
	langs, err := l.Languages(ctx)
	if err != nil || len(langs) == 0 {
		if err != nil {
			slog.Warn("failed to fetch languages, using defaults", "error", err)
		}
		return maps.Clone(DefaultLanguages)
	}
	return langs
}

// LanguageCodes returns the codes of langs in sorted order.
func LanguageCodes(langs map[string]string) []string {
	return slices.Sorted(maps.Keys(langs))
}
