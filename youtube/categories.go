package youtube

import "strings"

// categoryIDs maps the display names shown in watch-page microformat to the
// Data API's numeric category ids.
var categoryIDs = map[string]string{
	"film & animation":      "1",
	"autos & vehicles":      "2",
	"music":                 "10",
	"pets & animals":        "15",
	"sports":                "17",
	"short movies":          "18",
	"travel & events":       "19",
	"gaming":                "20",
	"videoblogging":         "21",
	"people & blogs":        "22",
	"comedy":                "23",
	"entertainment":         "24",
	"news & politics":       "25",
	"howto & style":         "26",
	"education":             "27",
	"science & technology":  "28",
	"nonprofits & activism": "29",
	"movies":                "30",
	"anime/animation":       "31",
	"action/adventure":      "32",
	"classics":              "33",
	"documentary":           "35",
	"drama":                 "36",
	"family":                "37",
	"foreign":               "38",
	"horror":                "39",
	"sci-fi/fantasy":        "40",
	"thriller":              "41",
	"shorts":                "42",
	"shows":                 "43",
	"trailers":              "44",
}

// CategoryIDForName returns the category id for a display name, matching
// case-insensitively. "and" is accepted in place of "&". Numeric ids are
// returned unchanged when known.
func CategoryIDForName(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", false
	}
	if id, ok := categoryIDs[key]; ok {
		return id, true
	}
	if id, ok := categoryIDs[strings.ReplaceAll(key, " and ", " & ")]; ok {
		return id, true
	}
	for _, id := range categoryIDs {
		if id == key {
			return id, true
		}
	}
	return "", false
}
