package transcriber

import "strings"

// languageCodes maps the English language names returned by Whisper-style
// engines to ISO-639-1 codes.
var languageCodes = map[string]string{
	"arabic": "ar", "chinese": "zh", "czech": "cs", "danish": "da", "dutch": "nl",
	"english": "en", "finnish": "fi", "french": "fr", "german": "de", "greek": "el",
	"hebrew": "he", "hindi": "hi", "hungarian": "hu", "indonesian": "id", "italian": "it",
	"japanese": "ja", "korean": "ko", "latvian": "lv", "lithuanian": "lt", "norwegian": "no",
	"persian": "fa", "polish": "pl", "portuguese": "pt", "romanian": "ro", "russian": "ru",
	"spanish": "es", "swedish": "sv", "thai": "th", "turkish": "tr", "ukrainian": "uk",
	"vietnamese": "vi", "estonian": "et",
}

// NormalizeLanguage converts an engine language label to an ISO-639-1 code.
// Two-letter codes pass through lower-cased; regional tags such as "en-US"
// are cut to the language. Unknown labels yield "".
func NormalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if code, ok := languageCodes[s]; ok {
		return code
	}
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	if len(s) == 2 {
		return s
	}
	return ""
}
