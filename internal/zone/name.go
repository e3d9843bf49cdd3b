package zone

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Zone names must begin with an alphanumeric character, use only
// [A-Za-z0-9._-], stay under 64 characters, and avoid the reserved names
// "global" and the "SUNW" vendor prefix.
const maxZoneNameLen = 64

// suffixLen hex characters give 32 bits of entropy, enough that parallel
// runs against one host never collide in practice.
const suffixLen = 8

var zoneNameStrip = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GenerateZoneName builds a unique zone identity from a human-readable label
// and a random suffix. The label is sanitized to the platform's naming rules
// and truncated so the full name fits the length ceiling.
func GenerateZoneName(label string) string {
	label = zoneNameStrip.ReplaceAllString(label, "-")
	label = strings.TrimLeft(label, "-._")
	if label == "" || strings.EqualFold(label, "global") || strings.HasPrefix(label, "SUNW") {
		label = "zone"
	}
	if max := maxZoneNameLen - suffixLen - 1; len(label) > max {
		label = label[:max]
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
	return label + "-" + suffix
}
