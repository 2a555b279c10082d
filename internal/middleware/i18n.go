package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// Message keys rendered to API callers.
const (
	MsgGenerated       = "Alt text generated successfully!"
	MsgSessionNotFound = "session not found"
	MsgSessionLimit    = "session limit reached"
	MsgInvalidBody     = "invalid request body"
	MsgInternal        = "internal server error"
)

var (
	supportedLocales = []language.Tag{language.English, language.Indonesian}
	localeMatcher    = language.NewMatcher(supportedLocales)
	messageKeys      = make(map[string]struct{})
	messages         = newCatalog()
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	id := map[string]string{
		MsgGenerated:       "Teks alt berhasil dibuat!",
		MsgSessionNotFound: "sesi tidak ditemukan",
		MsgSessionLimit:    "batas jumlah sesi tercapai",
		MsgInvalidBody:     "isi permintaan tidak valid",
		MsgInternal:        "terjadi kesalahan pada server",
	}
	for key, text := range id {
		messageKeys[key] = struct{}{}
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Indonesian, key, text)
	}
	return b
}

// I18N stores the negotiated locale ("en" or "id") in the request context.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	fallback := normalizeLocale(defaultLocale)
	if fallback == "" {
		fallback = "en"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, fallback)
			w.Header().Set("Content-Language", locale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := normalizeLocale(r.Header.Get("X-Locale")); v != "" {
		return v
	}
	if v := parseAcceptLanguage(r.Header.Get("Accept-Language")); v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return "en"
}

func parseAcceptLanguage(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return ""
	}
	return supportedLocales[idx].String()
}

// normalizeLocale maps a BCP 47 tag onto a supported locale, or "" when it
// matches none.
func normalizeLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return ""
	}
	return supportedLocales[idx].String()
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// Translate renders key in locale. Unknown keys are returned unchanged.
func Translate(locale, key string) string {
	if _, ok := messageKeys[key]; !ok {
		return key
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag, message.Catalog(messages)).Sprintf(key)
}

// T translates key for the locale stored in ctx.
func T(ctx context.Context, key string) string {
	return Translate(LocaleFromContext(ctx), key)
}
