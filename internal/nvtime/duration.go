// Package nvtime holds small time-formatting helpers shared by the service
// layer's timing logs.
package nvtime

import (
	"fmt"
	"time"
)

// FormatDuration renders a duration the way the original node's
// format_duration helper did: seconds and milliseconds, dropping the
// seconds component entirely when it's zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	seconds := int64(d / time.Second)
	millis := int64((d % time.Second) / time.Millisecond)
	if seconds == 0 {
		return fmt.Sprintf("%dms", millis)
	}
	return fmt.Sprintf("%ds %dms", seconds, millis)
}
