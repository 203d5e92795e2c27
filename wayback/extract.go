package wayback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"chronovista/youtube"
)

// playerResponse is the subset of ytInitialPlayerResponse the extractor reads.
type playerResponse struct {
	PlayabilityStatus *playabilityStatus `json:"playabilityStatus,omitempty"`
	VideoDetails      *videoDetails      `json:"videoDetails,omitempty"`
	Microformat       *microformat       `json:"microformat,omitempty"`
}

type playabilityStatus struct {
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type videoDetails struct {
	VideoID          string     `json:"videoId,omitempty"`
	Title            string     `json:"title,omitempty"`
	ShortDescription string     `json:"shortDescription,omitempty"`
	ChannelID        string     `json:"channelId,omitempty"`
	Author           string     `json:"author,omitempty"`
	Keywords         []string   `json:"keywords,omitempty"`
	ViewCount        string     `json:"viewCount,omitempty"`
	Thumbnail        *thumbnail `json:"thumbnail,omitempty"`
}

type microformat struct {
	PlayerMicroformatRenderer *playerMicroformatRenderer `json:"playerMicroformatRenderer,omitempty"`
}

type playerMicroformatRenderer struct {
	Title             *textRuns  `json:"title,omitempty"`
	Description       *textRuns  `json:"description,omitempty"`
	Category          string     `json:"category,omitempty"`
	PublishDate       string     `json:"publishDate,omitempty"`
	UploadDate        string     `json:"uploadDate,omitempty"`
	ExternalChannelID string     `json:"externalChannelId,omitempty"`
	OwnerChannelName  string     `json:"ownerChannelName,omitempty"`
	ViewCount         string     `json:"viewCount,omitempty"`
	Thumbnail         *thumbnail `json:"thumbnail,omitempty"`
}

type thumbnail struct {
	Thumbnails []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"thumbnails,omitempty"`
}

// best returns the widest thumbnail URL.
func (t *thumbnail) best() string {
	if t == nil {
		return ""
	}
	var url string
	width := -1
	for _, th := range t.Thumbnails {
		if th.URL != "" && th.Width > width {
			url, width = th.URL, th.Width
		}
	}
	return url
}

type textRuns struct {
	SimpleText string `json:"simpleText,omitempty"`
	Runs       []struct {
		Text string `json:"text"`
	} `json:"runs,omitempty"`
}

// text extracts plain text from either form.
func (t *textRuns) text() string {
	if t == nil {
		return ""
	}
	if t.SimpleText != "" {
		return t.SimpleText
	}
	var b strings.Builder
	for _, run := range t.Runs {
		b.WriteString(run.Text)
	}
	return b.String()
}

// removalMarkers appear on YouTube's "video unavailable" placeholder pages.
var removalMarkers = []string{
	"this video has been removed",
	"this video is no longer available",
	"this video is unavailable",
	"this video is private",
	"video unavailable",
	"account associated with this video has been terminated",
}

var (
	archivePrefix = regexp.MustCompile(`^(?:https?:)?//web\.archive\.org/web/\d+[a-z_]*/`)
	likeCountJSON = regexp.MustCompile(`"likeCount"\s*:\s*"?(\d+)`)
	likeLabel     = regexp.MustCompile(`([\d,]+) likes`)
)

// ExtractFromHTML reads metadata from an archived watch page. It prefers the
// embedded player response and falls back to meta tags, microdata and the
// pre-2017 watch layout. Removal notices return empty data.
func ExtractFromHTML(body []byte) (*RecoveredVideoData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	pr := findPlayerResponse(doc)
	data := &RecoveredVideoData{}
	if isRemovalNotice(doc, pr) {
		return data, nil
	}

	fromPlayerResponse(data, pr)
	fromMetaTags(data, doc)
	fromLegacyLayout(data, doc)
	return data, nil
}

func findPlayerResponse(doc *goquery.Document) *playerResponse {
	var found *playerResponse
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		const name = "ytInitialPlayerResponse"
		for idx := strings.Index(text, name); idx >= 0; {
			rest := strings.TrimLeft(text[idx+len(name):], " \t\r\n\"']=")
			if strings.HasPrefix(rest, "{") {
				var pr playerResponse
				if err := json.NewDecoder(strings.NewReader(rest)).Decode(&pr); err == nil {
					found = &pr
					return false
				}
			}
			next := strings.Index(text[idx+len(name):], name)
			if next < 0 {
				break
			}
			idx += len(name) + next
		}
		return true
	})
	return found
}

func isRemovalNotice(doc *goquery.Document, pr *playerResponse) bool {
	if pr != nil && pr.VideoDetails != nil && pr.VideoDetails.Title != "" {
		return false
	}
	if pr != nil && pr.PlayabilityStatus != nil {
		switch pr.PlayabilityStatus.Status {
		case "ERROR", "UNPLAYABLE", "LOGIN_REQUIRED":
			if pr.VideoDetails == nil {
				return true
			}
		}
	}

	notice := strings.ToLower(doc.Find("#unavailable-message, #player-unavailable, .yt-alert-message, #reason").Text())
	for _, m := range removalMarkers {
		if strings.Contains(notice, m) {
			return true
		}
	}
	return false
}

func fromPlayerResponse(d *RecoveredVideoData, pr *playerResponse) {
	if pr == nil {
		return
	}
	if vd := pr.VideoDetails; vd != nil {
		setString(&d.Title, vd.Title)
		setString(&d.Description, vd.ShortDescription)
		setString(&d.ChannelID, validChannelID(vd.ChannelID))
		setString(&d.ChannelNameHint, vd.Author)
		setCount(&d.ViewCount, vd.ViewCount)
		setString(&d.ThumbnailURL, unwrapArchiveURL(vd.Thumbnail.best()))
		addTags(d, vd.Keywords...)
	}
	if pr.Microformat == nil || pr.Microformat.PlayerMicroformatRenderer == nil {
		return
	}
	mf := pr.Microformat.PlayerMicroformatRenderer
	setString(&d.Title, mf.Title.text())
	setString(&d.Description, mf.Description.text())
	setString(&d.ChannelID, validChannelID(mf.ExternalChannelID))
	setString(&d.ChannelNameHint, mf.OwnerChannelName)
	setCount(&d.ViewCount, mf.ViewCount)
	setString(&d.ThumbnailURL, unwrapArchiveURL(mf.Thumbnail.best()))
	setCategory(d, mf.Category)
	setDate(&d.UploadDate, mf.UploadDate)
	setDate(&d.UploadDate, mf.PublishDate)
}

func fromMetaTags(d *RecoveredVideoData, doc *goquery.Document) {
	setString(&d.Title, cleanTitle(metaContent(doc, "meta[property='og:title']", "meta[name='title']", "meta[itemprop='name']")))
	setString(&d.Description, metaContent(doc, "meta[name='description']", "meta[property='og:description']", "meta[itemprop='description']"))
	setString(&d.ChannelID, validChannelID(metaContent(doc, "meta[itemprop='channelId']")))
	setString(&d.ChannelNameHint, attr(doc.Find("span[itemprop='author'] link[itemprop='name']"), "content"))
	setString(&d.ThumbnailURL, unwrapArchiveURL(firstNonEmpty(
		attr(doc.Find("link[itemprop='thumbnailUrl']"), "href"),
		metaContent(doc, "meta[property='og:image']"),
	)))
	setCount(&d.ViewCount, metaContent(doc, "meta[itemprop='interactionCount']"))
	setCategory(d, metaContent(doc, "meta[itemprop='genre']"))
	setDate(&d.UploadDate, metaContent(doc, "meta[itemprop='uploadDate']", "meta[itemprop='datePublished']"))

	if d.ChannelID == nil {
		setString(&d.ChannelID, youtube.ChannelIDFromURL(attr(doc.Find("span[itemprop='author'] link[itemprop='url']"), "href")))
	}

	if len(d.Tags) == 0 {
		doc.Find("meta[property='og:video:tag']").Each(func(_ int, s *goquery.Selection) {
			addTags(d, attr(s, "content"))
		})
	}
	if len(d.Tags) == 0 {
		if kw := metaContent(doc, "meta[name='keywords']"); kw != "" {
			addTags(d, strings.Split(kw, ",")...)
		}
	}
}

// fromLegacyLayout covers watch pages captured before the player response
// was embedded.
func fromLegacyLayout(d *RecoveredVideoData, doc *goquery.Document) {
	title := doc.Find("#eow-title")
	setString(&d.Title, firstNonEmpty(attr(title, "title"), strings.TrimSpace(title.Text())))
	setString(&d.Description, strings.TrimSpace(doc.Find("#eow-description").Text()))
	setCount(&d.ViewCount, doc.Find(".watch-view-count").First().Text())

	owner := doc.Find(".yt-user-info a").First()
	setString(&d.ChannelNameHint, strings.TrimSpace(owner.Text()))
	if d.ChannelID == nil {
		setString(&d.ChannelID, youtube.ChannelIDFromURL(attr(owner, "href")))
	}
	setDate(&d.UploadDate, strings.TrimPrefix(strings.TrimSpace(doc.Find("#eow-date, .watch-time-text").First().Text()), "Published on "))

	if d.LikeCount == nil {
		setCount(&d.LikeCount, doc.Find("button.like-button-renderer-like-button span.yt-uix-button-content").First().Text())
	}
	if d.LikeCount == nil {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := likeCountJSON.FindStringSubmatch(s.Text()); m != nil {
				setCount(&d.LikeCount, m[1])
				return false
			}
			if m := likeLabel.FindStringSubmatch(s.Text()); m != nil {
				setCount(&d.LikeCount, m[1])
				return false
			}
			return true
		})
	}
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.First().Attr(name)
	return strings.TrimSpace(v)
}

// metaContent returns the first non-empty content attribute among selectors.
func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := attr(doc.Find(sel), "content"); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// cleanTitle drops the site suffix and the bare site name.
func cleanTitle(t string) string {
	t = strings.TrimSpace(strings.TrimSuffix(t, " - YouTube"))
	if strings.EqualFold(t, "YouTube") {
		return ""
	}
	return t
}

func validChannelID(id string) string {
	if youtube.ValidateChannelID(id) != nil {
		return ""
	}
	return id
}

func unwrapArchiveURL(u string) string {
	return archivePrefix.ReplaceAllString(u, "")
}

// setString fills *dst once; earlier sources win.
func setString(dst **string, v string) {
	v = strings.TrimSpace(v)
	if *dst != nil || v == "" {
		return
	}
	*dst = &v
}

// setCount parses "1,234,567 views" style counts.
func setCount(dst **int64, v string) {
	if *dst != nil {
		return
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, v)
	if digits == "" {
		return
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return
	}
	*dst = &n
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

func setDate(dst **time.Time, v string) {
	v = strings.TrimSpace(v)
	if *dst != nil || v == "" {
		return
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			*dst = &day
			return
		}
	}
}

func setCategory(d *RecoveredVideoData, name string) {
	if d.CategoryID != nil {
		return
	}
	if id, ok := youtube.CategoryIDForName(name); ok {
		d.CategoryID = &id
	}
}

func addTags(d *RecoveredVideoData, tags ...string) {
	seen := make(map[string]bool, len(d.Tags))
	for _, t := range d.Tags {
		seen[t] = true
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		d.Tags = append(d.Tags, t)
	}
}
