package container

import (
	"path/filepath"
	"regexp"
	"strings"
)

var mapperSanitize = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// GenerateMapperName converts a container file path to a valid dm-crypt
// mapper name:
//   - /var/lib/skrinja/primary.img → skrinja_primary_img
//   - dots and dashes become underscores, other specials are dropped
func GenerateMapperName(containerPath string) string {
	base := filepath.Base(containerPath)

	name := strings.ReplaceAll(base, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	name = mapperSanitize.ReplaceAllString(name, "")

	return "skrinja_" + name
}
