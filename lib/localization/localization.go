// Package localization serves the user-visible gateway strings in the
// languages listed in locales/manifest.json.
package localization

import (
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// DefaultLanguage is used when the client asks for nothing we ship.
var DefaultLanguage = language.English

type LocalizationService struct {
	bundle *i18n.Bundle
}

var (
	globalService *LocalizationService
	once          sync.Once
)

func NewLocalizationService() *LocalizationService {
	once.Do(func() {
		bundle := i18n.NewBundle(DefaultLanguage)
		bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

		entries, err := localeFS.ReadDir("locales")
		if err != nil {
			slog.Error("can't list embedded locales", "err", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == "manifest.json" {
				continue
			}

			if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
				slog.Error("can't load locale", "file", name, "err", err)
			}
		}

		globalService = &LocalizationService{bundle: bundle}
	})

	return globalService
}

func (ls *LocalizationService) GetLocalizer(lang ...string) *i18n.Localizer {
	return i18n.NewLocalizer(ls.bundle, append(lang, DefaultLanguage.String())...)
}

func (ls *LocalizationService) GetLocalizerFromRequest(r *http.Request) *i18n.Localizer {
	return ls.GetLocalizer(r.Header.Get("Accept-Language"))
}

// SimpleLocalizer wraps i18n.Localizer with a more convenient API.
type SimpleLocalizer struct {
	Localizer *i18n.Localizer
}

// T localizes messageID. Unknown IDs come back unchanged so a missing
// translation never breaks a response.
func (sl *SimpleLocalizer) T(messageID string) string {
	return sl.Tf(messageID, nil)
}

// Tf is T with template data.
func (sl *SimpleLocalizer) Tf(messageID string, data map[string]any) string {
	msg, err := sl.Localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil || msg == "" {
		return messageID
	}
	return msg
}

// Lang reports the BCP 47 tag the localizer resolved to, for the html lang
// attribute.
func (sl *SimpleLocalizer) Lang() string {
	_, tag, err := sl.Localizer.LocalizeWithTag(&i18n.LocalizeConfig{MessageID: "loading"})
	if err != nil {
		return DefaultLanguage.String()
	}
	return tag.String()
}

// GetLocalizer creates a localizer based on the request's Accept-Language header.
func GetLocalizer(r *http.Request) *SimpleLocalizer {
	return &SimpleLocalizer{Localizer: NewLocalizationService().GetLocalizerFromRequest(r)}
}
