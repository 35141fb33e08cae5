package jobs

import (
	"mime"
	"path"
	"strings"
)

const fallbackFilename = "download"

// FilenameFromDisposition extracts the filename parameter of a
// Content-Disposition header value, reduced to its base name. Missing or
// malformed headers yield "download".
func FilenameFromDisposition(cd string) string {
	if strings.TrimSpace(cd) == "" {
		return fallbackFilename
	}

	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return fallbackFilename
	}

	name := strings.TrimSpace(params["filename"])
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return fallbackFilename
	}
	return name
}
