package env

import "os"

// Get returns the first non-empty value among keys, or fallback.
func Get(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return fallback
}

// InstanceID names the running process for logs and lock ownership.
func InstanceID() string {
	if id := Get("", "DYNO", "INSPECTBID_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
