package geolang

import "strings"

// langByCountry maps ISO 3166-1 alpha-2 country codes to the display language
// used for localized error pages. Unknown countries fall back to English.
var langByCountry = map[string]string{
	"RU": "ru", "BY": "ru", "KZ": "ru", "KG": "ru",
	"UA": "uk",
	"DE": "de", "AT": "de", "CH": "de",
	"FR": "fr", "BE": "fr",
	"ES": "es", "MX": "es", "AR": "es", "CO": "es", "CL": "es", "PE": "es",
	"PT": "pt", "BR": "pt",
	"IT": "it",
	"PL": "pl",
	"TR": "tr",
	"NL": "nl",
	"JP": "ja",
	"KR": "ko",
	"CN": "zh", "TW": "zh", "HK": "zh",
	"VN": "vi",
	"TH": "th",
	"ID": "id",
	"IN": "hi",
	"SA": "ar", "AE": "ar", "EG": "ar",
}

// Resolve picks the display language for an error page. An explicit offer
// language always wins over the detected country.
func Resolve(offerLanguage, countryCode string) string {
	if lang := strings.ToLower(strings.TrimSpace(offerLanguage)); lang != "" {
		return lang
	}
	if lang, ok := langByCountry[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return lang
	}
	return "en"
}
