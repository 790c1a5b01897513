// Package i18n selects the message printer used for operator-facing output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported language for a tag list such as
// "de-DE,de;q=0.9" or a bare locale such as "de_DE".
func MatchLanguage(accept string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(strings.ReplaceAll(accept, "_", "-"))
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// LocaleFromEnv returns the locale named by LC_ALL or LANG with any
// encoding suffix removed ("de_DE.UTF-8" becomes "de_DE").
func LocaleFromEnv() string {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	if lang == "C" || lang == "POSIX" {
		return ""
	}
	return lang
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	lang := LocaleFromEnv()
	if lang == "" {
		return message.NewPrinter(DefaultLang)
	}
	return message.NewPrinter(MatchLanguage(lang))
}
