package stt

import "github.com/dkeye/Parley/internal/domain"

const DefaultLocale = "en-US"

var locales = map[string]string{
	"en": "en-US",
	"zh": "zh-CN",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"pt": "pt-BR",
	"ru": "ru-RU",
	"it": "it-IT",
}

// MapLanguage turns a short language code into a recognizer locale.
// Full locales and unknown codes pass through unchanged.
func MapLanguage(code string) string {
	if code == "" {
		return DefaultLocale
	}
	if l, ok := locales[code]; ok {
		return l
	}
	return code
}

func normalizeLanguages(langs []domain.Language) []domain.Language {
	if len(langs) == 0 {
		return []domain.Language{{Source: DefaultLocale, Target: []string{}}}
	}
	return langs
}
