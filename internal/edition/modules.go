package edition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

// A Module derives one edition fragment from raw Plex item metadata.
// Returning "" means the module has nothing to contribute.
type Module func(meta map[string]any, settings models.EditionSettings) string

type registryEntry struct {
	Name   string
	Module Module
}

// Registry is every known module in default order. The stored config's
// module_order controls the order actually used at generation time.
var Registry = []registryEntry{
	{"Resolution", resolutionModule},
	{"DynamicRange", dynamicRangeModule},
	{"VideoCodec", videoCodecModule},
	{"Bitrate", bitrateModule},
	{"FrameRate", frameRateModule},
	{"AudioCodec", audioCodecModule},
	{"AudioChannels", audioChannelsModule},
	{"Cut", cutModule},
	{"Release", releaseModule},
	{"Source", sourceModule},
	{"ShortFilm", shortFilmModule},
	{"SpecialFeatures", specialFeaturesModule},
	{"ContentRating", contentRatingModule},
	{"Duration", durationModule},
	{"Rating", ratingModule},
	{"Director", directorModule},
	{"Writer", writerModule},
	{"Genre", genreModule},
	{"Country", countryModule},
	{"Studio", studioModule},
	{"Language", languageModule},
	{"Size", sizeModule},
}

// ModuleNames returns the registry's names in default order.
func ModuleNames() []string {
	names := make([]string, len(Registry))
	for i, entry := range Registry {
		names[i] = entry.Name
	}
	return names
}

func lookupModule(name string) Module {
	for _, entry := range Registry {
		if entry.Name == name {
			return entry.Module
		}
	}
	return nil
}

// ──────────────────── metadata helpers ────────────────────

// mainMedia returns the highest-bitrate Media entry. Plex lists one Media
// per file version of an item.
func mainMedia(meta map[string]any) map[string]any {
	var best map[string]any
	bestBitrate := -1
	for _, raw := range cast.ToSlice(meta["Media"]) {
		media := cast.ToStringMap(raw)
		if media == nil {
			continue
		}
		bitrate := cast.ToInt(media["bitrate"])
		if bitrate > bestBitrate {
			best = media
			bestBitrate = bitrate
		}
	}
	return best
}

func mainPart(meta map[string]any) map[string]any {
	media := mainMedia(meta)
	if media == nil {
		return nil
	}
	parts := cast.ToSlice(media["Part"])
	if len(parts) == 0 {
		return nil
	}
	return cast.ToStringMap(parts[0])
}

const (
	streamTypeVideo = 1
	streamTypeAudio = 2
)

func findStream(part map[string]any, streamType int, selectedOnly bool) map[string]any {
	for _, raw := range cast.ToSlice(part["Stream"]) {
		stream := cast.ToStringMap(raw)
		if cast.ToInt(stream["streamType"]) != streamType {
			continue
		}
		if selectedOnly && !cast.ToBool(stream["selected"]) {
			continue
		}
		return stream
	}
	return nil
}

// mainAudioStream prefers the selected audio stream, falling back to the
// first one.
func mainAudioStream(meta map[string]any) map[string]any {
	part := mainPart(meta)
	if part == nil {
		return nil
	}
	if audio := findStream(part, streamTypeAudio, true); audio != nil {
		return audio
	}
	return findStream(part, streamTypeAudio, false)
}

func firstTag(meta map[string]any, key string) string {
	entries := cast.ToSlice(meta[key])
	if len(entries) == 0 {
		return ""
	}
	return cast.ToString(cast.ToStringMap(entries[0])["tag"])
}

// ──────────────────── video ────────────────────

var resolutionLadder = []struct {
	Width, Height int
	Label         string
}{
	{7680, 4320, "8K"},
	{3840, 2160, "4K"},
	{2560, 1440, "2K"},
	{1920, 1080, "1080p"},
	{1280, 720, "720p"},
	{720, 576, "576p"},
	{720, 480, "480p"},
}

func resolutionModule(meta map[string]any, _ models.EditionSettings) string {
	media := mainMedia(meta)
	if media == nil {
		return ""
	}
	label := cast.ToString(media["videoResolution"])
	if label == "" {
		return ""
	}

	width := cast.ToInt(media["width"])
	height := cast.ToInt(media["height"])
	if width == 0 || height == 0 {
		switch label {
		case "4k":
			return "4K"
		case "1080":
			return "1080p"
		case "720":
			return "720p"
		case "sd":
			return "SD"
		}
		return strings.ToUpper(label)
	}

	// tolerate cropped black bars on either axis
	for _, rung := range resolutionLadder {
		if float64(width) >= float64(rung.Width)*0.85 || float64(height) >= float64(rung.Height)*0.85 {
			return rung.Label
		}
	}
	return "SD"
}

func dynamicRangeModule(meta map[string]any, _ models.EditionSettings) string {
	part := mainPart(meta)
	if part == nil {
		return ""
	}
	video := findStream(part, streamTypeVideo, false)
	if video == nil {
		return ""
	}

	if profile := cast.ToString(video["DOVIProfile"]); profile != "" {
		return "DV P" + profile
	}
	if strings.Contains(strings.ToLower(cast.ToString(video["DOVIPresent"])), "dovi") {
		return "Dolby Vision"
	}
	if strings.Contains(strings.ToUpper(cast.ToString(video["displayTitle"])), "HDR") {
		return "HDR"
	}
	return ""
}

var videoCodecMap = map[string]string{
	"h264":       "H.264",
	"h265":       "H.265",
	"hevc":       "H.265",
	"mpeg4":      "MPEG-4",
	"mpeg2video": "MPEG-2",
	"av1":        "AV1",
	"vp9":        "VP9",
}

func videoCodecModule(meta map[string]any, _ models.EditionSettings) string {
	media := mainMedia(meta)
	if media == nil {
		return ""
	}
	codec := strings.ToLower(cast.ToString(media["videoCodec"]))
	if codec == "" {
		return ""
	}
	if label, ok := videoCodecMap[codec]; ok {
		return label
	}
	return strings.ToUpper(codec)
}

func bitrateModule(meta map[string]any, _ models.EditionSettings) string {
	media := mainMedia(meta)
	if media == nil {
		return ""
	}
	kbps := cast.ToInt(media["bitrate"])
	if kbps == 0 {
		return ""
	}
	return fmt.Sprintf("%.1f Mbps", float64(kbps)/1000)
}

func frameRateModule(meta map[string]any, _ models.EditionSettings) string {
	media := mainMedia(meta)
	if media == nil {
		return ""
	}

	if part := mainPart(meta); part != nil {
		if video := findStream(part, streamTypeVideo, false); video != nil {
			if fr := cast.ToFloat64(video["frameRate"]); fr > 0 {
				switch {
				case fr > 23.9 && fr < 24.1:
					return "24fps"
				case fr > 29.9 && fr < 30.1:
					return "30fps"
				case fr > 59.9 && fr < 60.1:
					return "60fps"
				}
				return fmt.Sprintf("%dfps", int(fr))
			}
		}
	}
	return cast.ToString(media["videoFrameRate"])
}

// ──────────────────── audio ────────────────────

var audioCodecMap = map[string]string{
	"truehd":    "Dolby TrueHD",
	"eac3":      "Dolby Digital Plus",
	"ac3":       "Dolby Digital",
	"dts-hd ma": "DTS-HD MA",
	"dts":       "DTS",
	"flac":      "FLAC",
	"aac":       "AAC",
	"mp3":       "MP3",
	"opus":      "Opus",
}

func audioCodecModule(meta map[string]any, _ models.EditionSettings) string {
	media := mainMedia(meta)
	if media == nil {
		return ""
	}
	codec := strings.ToLower(cast.ToString(media["audioCodec"]))
	if codec == "" {
		return ""
	}

	display, ok := audioCodecMap[codec]
	if !ok {
		display = strings.ToUpper(codec)
	}

	// Atmos and DTS:X only show up in the stream's display title
	if audio := mainAudioStream(meta); audio != nil {
		title := strings.ToLower(cast.ToString(audio["displayTitle"]))
		if strings.Contains(title, "atmos") {
			display += " Atmos"
		} else if strings.Contains(title, "dts:x") {
			display = "DTS:X"
		}
	}
	return display
}

func audioChannelsModule(meta map[string]any, _ models.EditionSettings) string {
	media := mainMedia(meta)
	if media == nil {
		return ""
	}
	channels := cast.ToInt(media["audioChannels"])
	switch channels {
	case 0:
		return ""
	case 8:
		return "7.1"
	case 7:
		return "6.1"
	case 6:
		return "5.1"
	case 2:
		return "2.0"
	case 1:
		return "1.0"
	}
	return fmt.Sprintf("%dch", channels)
}

// ──────────────────── content ────────────────────

type pattern struct {
	re    *regexp.Regexp
	label string
}

func compilePatterns(pairs [][2]string) []pattern {
	patterns := make([]pattern, len(pairs))
	for i, p := range pairs {
		patterns[i] = pattern{regexp.MustCompile("(?i)" + p[0]), p[1]}
	}
	return patterns
}

var cutPatterns = compilePatterns([][2]string{
	{`theatrical[.\s_-]*cut`, "Theatrical Cut"},
	{`director'?s?[.\s_-]*cut`, "Director's Cut"},
	{`producer'?s?[.\s_-]*cut`, "Producer's Cut"},
	{`extended[.\s_-]*(cut|edition)?`, "Extended"},
	{`unrated[.\s_-]*(cut|edition)?`, "Unrated"},
	{`final[.\s_-]*cut`, "Final Cut"},
	{`television[.\s_-]*cut`, "Television Cut"},
	{`international[.\s_-]*cut`, "International Cut"},
	{`redux`, "Redux"},
	{`criterion`, "Criterion"},
	{`remastered`, "Remastered"},
	{`restored`, "Restored"},
})

var releasePatterns = compilePatterns([][2]string{
	{`criterion`, "Criterion"},
	{`anniversary`, "Anniversary Edition"},
	{`collector'?s?[.\s_-]*edition`, "Collector's Edition"},
	{`special[.\s_-]*edition`, "Special Edition"},
	{`diamond[.\s_-]*edition`, "Diamond Edition"},
	{`platinum[.\s_-]*edition`, "Platinum Edition"},
	{`signature[.\s_-]*edition`, "Signature Edition"},
	{`imax`, "IMAX"},
	{`open[.\s_-]*matte`, "Open Matte"},
})

var sourcePatterns = compilePatterns([][2]string{
	{`\bremux\b`, "REMUX"},
	{`\bblu-?ray\b|\bbd\b`, "BluRay"},
	{`\bbdrip\b`, "BDRip"},
	{`\bweb-?dl\b`, "WEB-DL"},
	{`\bwebrip\b`, "WEBRip"},
	{`\bhdtv\b`, "HDTV"},
	{`\bdvd\b`, "DVD"},
	{`\bdvdrip\b`, "DVDRip"},
	{`\bvhs\b`, "VHS"},
	{`\blaserdisc\b`, "LaserDisc"},
})

func matchPatterns(patterns []pattern, text string) string {
	if text == "" {
		return ""
	}
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.label
		}
	}
	return ""
}

func partFilename(meta map[string]any) string {
	part := mainPart(meta)
	if part == nil {
		return ""
	}
	return cast.ToString(part["file"])
}

// cutModule checks the filename first since it is usually more reliable
// than the title.
func cutModule(meta map[string]any, _ models.EditionSettings) string {
	if label := matchPatterns(cutPatterns, partFilename(meta)); label != "" {
		return label
	}
	return matchPatterns(cutPatterns, cast.ToString(meta["title"]))
}

func releaseModule(meta map[string]any, _ models.EditionSettings) string {
	filename := partFilename(meta)
	title := cast.ToString(meta["title"])
	for _, p := range releasePatterns {
		if (filename != "" && p.re.MatchString(filename)) || (title != "" && p.re.MatchString(title)) {
			return p.label
		}
	}
	return ""
}

func sourceModule(meta map[string]any, _ models.EditionSettings) string {
	return matchPatterns(sourcePatterns, partFilename(meta))
}

func shortFilmModule(meta map[string]any, _ models.EditionSettings) string {
	durationMS := cast.ToInt64(meta["duration"])
	if durationMS == 0 {
		return ""
	}
	if float64(durationMS)/60000 < 40 {
		return "Short Film"
	}
	return ""
}

func specialFeaturesModule(meta map[string]any, _ models.EditionSettings) string {
	if extras := cast.ToSlice(meta["Extras"]); len(extras) > 0 {
		return "Extras"
	}
	if extras := cast.ToStringMap(meta["Extras"]); len(extras) > 0 {
		return "Extras"
	}
	return ""
}

// ──────────────────── metadata ────────────────────

func contentRatingModule(meta map[string]any, _ models.EditionSettings) string {
	return cast.ToString(meta["contentRating"])
}

func durationModule(meta map[string]any, _ models.EditionSettings) string {
	durationMS := cast.ToInt64(meta["duration"])
	if durationMS == 0 {
		return ""
	}
	minutes := durationMS / 60000
	hours := minutes / 60
	mins := minutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func ratingModule(meta map[string]any, _ models.EditionSettings) string {
	rating := cast.ToFloat64(meta["rating"])
	if rating == 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", rating)
}

func directorModule(meta map[string]any, _ models.EditionSettings) string {
	return firstTag(meta, "Director")
}

func writerModule(meta map[string]any, _ models.EditionSettings) string {
	return firstTag(meta, "Writer")
}

func genreModule(meta map[string]any, _ models.EditionSettings) string {
	return firstTag(meta, "Genre")
}

func countryModule(meta map[string]any, _ models.EditionSettings) string {
	return firstTag(meta, "Country")
}

func studioModule(meta map[string]any, _ models.EditionSettings) string {
	return cast.ToString(meta["studio"])
}

func languageModule(meta map[string]any, settings models.EditionSettings) string {
	audio := mainAudioStream(meta)
	if audio == nil {
		return ""
	}
	language := cast.ToString(audio["language"])
	for _, excluded := range settings.ExcludedLanguages {
		if language == excluded {
			return ""
		}
	}
	return language
}

func sizeModule(meta map[string]any, _ models.EditionSettings) string {
	part := mainPart(meta)
	if part == nil {
		return ""
	}
	sizeBytes := cast.ToInt64(part["size"])
	if sizeBytes == 0 {
		return ""
	}
	gb := float64(sizeBytes) / (1 << 30)
	return fmt.Sprintf("%.1f GB", gb)
}
