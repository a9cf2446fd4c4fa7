package services

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewIDGenerator returns a generator producing prefixed, lexicographically
// sortable ids (e.g. ord_01j3z8...). Safe for concurrent use.
func NewIDGenerator() IDGenerator {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy)
		return prefix + strings.ToLower(id.String())
	}
}
