package version

import (
	"encoding/json"
	"log"
	"os"
)

const fallback = "0.0.0-dev"

type Info struct {
	Version string `json:"version"`
}

// Load reads version.json from the working directory. A missing or broken
// file is not fatal; the daemon runs with the dev fallback.
func Load() Info {
	data, err := os.ReadFile("version.json")
	if err != nil {
		log.Printf("[version] version.json unreadable, using %s: %v", fallback, err)
		return Info{Version: fallback}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.Version == "" {
		log.Printf("[version] version.json malformed, using %s", fallback)
		return Info{Version: fallback}
	}
	return info
}
