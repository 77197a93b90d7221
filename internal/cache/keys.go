package cache

import "fmt"

// KeyRoutesFor matches the cached routing results of one backend
func KeyRoutesFor(service string) string {
	return fmt.Sprintf("route:%s:*", service)
}
