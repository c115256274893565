package config

// Source selects where the agent captures frames from.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceDir     Source = "dir"
)

// ValidSources lists the capture sources the agent knows.
var ValidSources = map[Source]bool{
	SourcePattern: true,
	SourceDir:     true,
}

// ValidProtocols maps the viewer.protocol setting to push subprotocols.
var ValidProtocols = map[string]string{
	"binary": "telepresence.binary.v1",
	"json":   "telepresence.json.v1",
}

// ValidLogLevels lists the accepted logging.level values.
var ValidLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}
