package notify

import "strings"

// Translations are the user-facing strings of push notifications.
type Translations struct {
	Complete string
	Cancel   string
	Quick    string
}

var translations = map[string]Translations{
	"en": {Complete: "Done", Cancel: "Cancel", Quick: "Quick actions"},
	"fr": {Complete: "Terminer", Cancel: "Annuler", Quick: "Actions rapides"},
}

// Translator returns the strings for locale ("fr", "fr-FR", …), falling back
// to English.
func Translator(locale string) Translations {
	l := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	if tr, ok := translations[l]; ok {
		return tr
	}
	return translations["en"]
}
