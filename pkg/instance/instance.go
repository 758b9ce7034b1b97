package instance

import "os"

// GetID names the running replica for log fields. WORKER_ID wins, then the
// platform's DYNO, then fallback.
func GetID(fallback string) string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return fallback
}
