package edition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

func movieMeta(media map[string]any, extra map[string]any) map[string]any {
	meta := map[string]any{
		"title": "Test Movie",
		"Media": []any{media},
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

func defaultSettings() models.EditionSettings {
	return models.EditionSettings{Separator: " . ", ExcludedLanguages: []string{"English"}}
}

func TestResolutionModule(t *testing.T) {
	cases := []struct {
		name  string
		media map[string]any
		want  string
	}{
		{"uhd by width", map[string]any{"videoResolution": "4k", "width": 3840, "height": 2160}, "4K"},
		{"cropped uhd", map[string]any{"videoResolution": "4k", "width": 3840, "height": 1600}, "4K"},
		{"full hd", map[string]any{"videoResolution": "1080", "width": 1920, "height": 1080}, "1080p"},
		{"label fallback 4k", map[string]any{"videoResolution": "4k"}, "4K"},
		{"label fallback sd", map[string]any{"videoResolution": "sd"}, "SD"},
		{"label fallback unknown", map[string]any{"videoResolution": "576"}, "576"},
		{"tiny file", map[string]any{"videoResolution": "sd", "width": 400, "height": 300}, "SD"},
		{"no resolution info", map[string]any{"width": 1920, "height": 1080}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolutionModule(movieMeta(tc.media, nil), defaultSettings())
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolutionPicksHighestBitrateVersion(t *testing.T) {
	meta := map[string]any{
		"Media": []any{
			map[string]any{"videoResolution": "1080", "width": 1920, "height": 1080, "bitrate": 8000},
			map[string]any{"videoResolution": "4k", "width": 3840, "height": 2160, "bitrate": 25000},
		},
	}
	assert.Equal(t, "4K", resolutionModule(meta, defaultSettings()))
}

func TestDynamicRangeModule(t *testing.T) {
	withStream := func(stream map[string]any) map[string]any {
		stream["streamType"] = 1
		return movieMeta(map[string]any{
			"Part": []any{map[string]any{"Stream": []any{stream}}},
		}, nil)
	}

	assert.Equal(t, "DV P8", dynamicRangeModule(withStream(map[string]any{"DOVIProfile": "8"}), defaultSettings()))
	assert.Equal(t, "Dolby Vision", dynamicRangeModule(withStream(map[string]any{"DOVIPresent": "dovi"}), defaultSettings()))
	assert.Equal(t, "HDR", dynamicRangeModule(withStream(map[string]any{"displayTitle": "4K HDR (HEVC Main 10)"}), defaultSettings()))
	assert.Equal(t, "", dynamicRangeModule(withStream(map[string]any{"displayTitle": "1080p (H.264)"}), defaultSettings()))
}

func TestVideoCodecModule(t *testing.T) {
	assert.Equal(t, "H.265", videoCodecModule(movieMeta(map[string]any{"videoCodec": "hevc"}, nil), defaultSettings()))
	assert.Equal(t, "H.264", videoCodecModule(movieMeta(map[string]any{"videoCodec": "h264"}, nil), defaultSettings()))
	assert.Equal(t, "XVID", videoCodecModule(movieMeta(map[string]any{"videoCodec": "xvid"}, nil), defaultSettings()))
}

func TestBitrateAndFrameRate(t *testing.T) {
	assert.Equal(t, "24.5 Mbps", bitrateModule(movieMeta(map[string]any{"bitrate": 24500}, nil), defaultSettings()))
	assert.Equal(t, "", bitrateModule(movieMeta(map[string]any{}, nil), defaultSettings()))

	frMeta := func(fr any) map[string]any {
		return movieMeta(map[string]any{
			"Part": []any{map[string]any{"Stream": []any{
				map[string]any{"streamType": 1, "frameRate": fr},
			}}},
		}, nil)
	}
	assert.Equal(t, "24fps", frameRateModule(frMeta(23.976), defaultSettings()))
	assert.Equal(t, "30fps", frameRateModule(frMeta(29.97), defaultSettings()))
	assert.Equal(t, "60fps", frameRateModule(frMeta(59.94), defaultSettings()))
	assert.Equal(t, "25fps", frameRateModule(frMeta(25.0), defaultSettings()))

	fallback := movieMeta(map[string]any{"videoFrameRate": "24p"}, nil)
	assert.Equal(t, "24p", frameRateModule(fallback, defaultSettings()))
}

func TestAudioCodecModule(t *testing.T) {
	atmos := movieMeta(map[string]any{
		"audioCodec": "truehd",
		"Part": []any{map[string]any{"Stream": []any{
			map[string]any{"streamType": 2, "selected": true, "displayTitle": "TrueHD Atmos 7.1"},
		}}},
	}, nil)
	assert.Equal(t, "Dolby TrueHD Atmos", audioCodecModule(atmos, defaultSettings()))

	dtsx := movieMeta(map[string]any{
		"audioCodec": "dts",
		"Part": []any{map[string]any{"Stream": []any{
			map[string]any{"streamType": 2, "displayTitle": "DTS:X 7.1"},
		}}},
	}, nil)
	assert.Equal(t, "DTS:X", audioCodecModule(dtsx, defaultSettings()))

	plain := movieMeta(map[string]any{"audioCodec": "eac3"}, nil)
	assert.Equal(t, "Dolby Digital Plus", audioCodecModule(plain, defaultSettings()))
}

func TestAudioChannelsModule(t *testing.T) {
	cases := map[int]string{8: "7.1", 7: "6.1", 6: "5.1", 2: "2.0", 1: "1.0", 3: "3ch"}
	for channels, want := range cases {
		got := audioChannelsModule(movieMeta(map[string]any{"audioChannels": channels}, nil), defaultSettings())
		assert.Equal(t, want, got, "channels %d", channels)
	}
	assert.Equal(t, "", audioChannelsModule(movieMeta(map[string]any{}, nil), defaultSettings()))
}

func TestCutModulePrefersFilename(t *testing.T) {
	meta := movieMeta(map[string]any{
		"Part": []any{map[string]any{"file": "/movies/Blade.Runner.Directors.Cut.1982.mkv"}},
	}, map[string]any{"title": "Blade Runner (Theatrical Cut)"})
	assert.Equal(t, "Director's Cut", cutModule(meta, defaultSettings()))

	titleOnly := movieMeta(map[string]any{}, map[string]any{"title": "Apocalypse Now Redux"})
	assert.Equal(t, "Redux", cutModule(titleOnly, defaultSettings()))
}

func TestReleaseAndSourceModules(t *testing.T) {
	meta := movieMeta(map[string]any{
		"Part": []any{map[string]any{"file": "/movies/Dune.2021.IMAX.2160p.REMUX.mkv"}},
	}, nil)
	assert.Equal(t, "IMAX", releaseModule(meta, defaultSettings()))
	assert.Equal(t, "REMUX", sourceModule(meta, defaultSettings()))

	// source only ever reads the filename
	titled := movieMeta(map[string]any{}, map[string]any{"title": "The BluRay Story"})
	assert.Equal(t, "", sourceModule(titled, defaultSettings()))
}

func TestDurationAndShortFilm(t *testing.T) {
	short := movieMeta(map[string]any{}, map[string]any{"duration": 2340000}) // 39 minutes
	assert.Equal(t, "Short Film", shortFilmModule(short, defaultSettings()))
	assert.Equal(t, "39m", durationModule(short, defaultSettings()))

	feature := movieMeta(map[string]any{}, map[string]any{"duration": 8100000}) // 2h 15m
	assert.Equal(t, "", shortFilmModule(feature, defaultSettings()))
	assert.Equal(t, "2h 15m", durationModule(feature, defaultSettings()))
}

func TestMetadataModules(t *testing.T) {
	meta := movieMeta(map[string]any{}, map[string]any{
		"contentRating": "R",
		"rating":        8.25,
		"studio":        "Warner Bros.",
		"Director":      []any{map[string]any{"tag": "Ridley Scott"}},
		"Genre":         []any{map[string]any{"tag": "Sci-Fi"}, map[string]any{"tag": "Drama"}},
	})
	settings := defaultSettings()

	assert.Equal(t, "R", contentRatingModule(meta, settings))
	assert.Equal(t, "8.2", ratingModule(meta, settings))
	assert.Equal(t, "Warner Bros.", studioModule(meta, settings))
	assert.Equal(t, "Ridley Scott", directorModule(meta, settings))
	assert.Equal(t, "Sci-Fi", genreModule(meta, settings))
	assert.Equal(t, "", writerModule(meta, settings))
}

func TestLanguageModuleExclusions(t *testing.T) {
	langMeta := func(lang string) map[string]any {
		return movieMeta(map[string]any{
			"Part": []any{map[string]any{"Stream": []any{
				map[string]any{"streamType": 2, "language": lang},
			}}},
		}, nil)
	}
	assert.Equal(t, "", languageModule(langMeta("English"), defaultSettings()))
	assert.Equal(t, "Japanese", languageModule(langMeta("Japanese"), defaultSettings()))
}

func TestSizeModule(t *testing.T) {
	meta := movieMeta(map[string]any{
		"Part": []any{map[string]any{"size": 48318382080}}, // 45 GiB
	}, nil)
	assert.Equal(t, "45.0 GB", sizeModule(meta, defaultSettings()))
}

func TestComposeOrderAndSeparator(t *testing.T) {
	meta := movieMeta(map[string]any{
		"videoResolution": "4k",
		"width":           3840,
		"height":          2160,
		"Part":            []any{map[string]any{"file": "/m/Alien.Directors.Cut.mkv"}},
	}, nil)

	cfg := &models.EditionConfig{
		EnabledModules: []string{"Resolution", "Cut"},
		ModuleOrder:    ModuleNames(),
		Settings:       defaultSettings(),
	}
	assert.Equal(t, "4K . Director's Cut", Compose(meta, cfg))

	// order follows module_order, not enabled_modules
	cfg.ModuleOrder = []string{"Cut", "Resolution"}
	assert.Equal(t, "Director's Cut . 4K", Compose(meta, cfg))

	cfg.Settings.Separator = " | "
	assert.Equal(t, "Director's Cut | 4K", Compose(meta, cfg))

	// unknown module names in the order are skipped
	cfg.ModuleOrder = []string{"Nonexistent", "Resolution"}
	assert.Equal(t, "4K", Compose(meta, cfg))

	cfg.EnabledModules = nil
	assert.Equal(t, "", Compose(meta, cfg))
}
