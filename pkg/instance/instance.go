package instance

import "os"

// GetID returns the worker instance identifier: BILLING_INSTANCE_ID, then the
// hostname, then a fixed default.
func GetID() string {
	if id := os.Getenv("BILLING_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
