package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const devVersion = "0.1.0-dev"

// overridden with -ldflags "-X github.com/openmined/blobdispatch/internal/version.Version=..."
var (
	AppName   = "blobdispatch"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// Info is the machine readable form served on / and printed by `version --json`
type Info struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the build information
func Get() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// applyBuildInfo fills in whatever ldflags left at the defaults
func applyBuildInfo(mainVersion string, settings map[string]string) {
	if Version == devVersion || Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if Revision == "HEAD" || Revision == "" {
		if r := settings["vcs.revision"]; r != "" {
			if settings["vcs.modified"] == "true" {
				r += "-dirty"
			}
			Revision = r
		}
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

// Short returns `0.1.0 (5e23a4)`
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// ShortWithApp returns `blobdispatch 0.1.0 (5e23a4)`
func ShortWithApp() string {
	return AppName + " " + Short()
}

// Detailed returns `0.1.0 (5e23a4; go1.23.6; linux/amd64; 2025-01-01T00:00:00Z)`
func Detailed() string {
	info := Get()
	return fmt.Sprintf("%s (%s; %s; %s; %s)", info.Version, info.Revision, info.GoVersion, info.Platform, info.BuildDate)
}

// DetailedWithApp returns `blobdispatch 0.1.0 (5e23a4; go1.23.6; linux/amd64; 2025-01-01T00:00:00Z)`
func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		settings := make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			settings[s.Key] = s.Value
		}
		applyBuildInfo(info.Main.Version, settings)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
