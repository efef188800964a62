package instance

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	once sync.Once
	id   string
)

// GetID returns WORKER_ID when set, otherwise hostname plus a random suffix.
// The value is fixed for the life of the process so outbox claims and cron
// locks keep one owner.
func GetID() string {
	once.Do(func() {
		id = resolve(os.Getenv, os.Hostname, uuid.NewString)
	})
	return id
}

func resolve(getenv func(string) string, hostname func() (string, error), newID func() string) string {
	if v := getenv("WORKER_ID"); v != "" {
		return v
	}
	suffix := newID()
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	host, err := hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + suffix
}
