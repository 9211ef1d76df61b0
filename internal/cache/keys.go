package cache

import "fmt"

func RateLimitKey(client string) string {
	return fmt.Sprintf("mediagen:ratelimit:%s", client)
}

func MaintenanceLockKey(operation string) string {
	return fmt.Sprintf("mediagen:lock:maintenance:%s", operation)
}
