// Package locales holds the bot's reply texts as go-i18n message catalogs.
package locales

import (
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

// Catalog resolves message IDs to texts in the user's language.
type Catalog struct {
	bundle   *i18n.Bundle
	fallback language.Tag
}

// New loads every embedded catalog. defaultLang is used when the user's
// language has no catalog.
func New(defaultLang string) (*Catalog, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		log.Printf("[warn] bad default language %q: %v, using ru", defaultLang, err)
		tag = language.Russian
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, entry.Name()); err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no message files found")
	}

	return &Catalog{bundle: bundle, fallback: tag}, nil
}

// Text renders msgID for the given language code (e.g. Telegram's language_code).
// Missing translations fall back to the default language, then to the ID itself.
func (c *Catalog) Text(lang, msgID string, data map[string]interface{}) string {
	cfg := &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data}

	msg, err := i18n.NewLocalizer(c.bundle, lang, c.fallback.String()).Localize(cfg)
	if err != nil {
		log.Printf("[warn] localize %q for %q: %v", msgID, lang, err)
		return msgID
	}
	return msg
}

// Default renders msgID in the default language.
func (c *Catalog) Default(msgID string, data map[string]interface{}) string {
	return c.Text(c.DefaultLanguage(), msgID, data)
}

// DefaultLanguage is the language code used when the user's one is unknown.
func (c *Catalog) DefaultLanguage() string {
	return c.fallback.String()
}
