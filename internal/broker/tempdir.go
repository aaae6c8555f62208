package broker

import "os"

// osMkdirTemp gives the process-wide default embedded instance its working
// directory the first time any Connect call with NV_BROKER_BACKEND=embedded
// and no explicit NV_EMBEDDED_DIR needs one (outside of tests, which prefer
// NewEmbedded(t.TempDir()) directly for full isolation).
func osMkdirTemp() (string, error) {
	return os.MkdirTemp("", "nv-embedded-broker-*")
}
