package participants

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

func participantsConfig() config.ParticipantsConfig {
	return config.ParticipantsConfig{
		GenreURL:            "http://genres.local",
		AuthorURL:           "http://authors.local",
		BookURL:             "http://books.local",
		CallTimeout:         time.Second,
		MaxAttempts:         3,
		BaseBackoff:         10 * time.Millisecond,
		MaxBackoff:          50 * time.Millisecond,
		BreakerMaxRequests:  1,
		BreakerInterval:     time.Minute,
		BreakerOpenTimeout:  time.Second,
		BreakerConsecutive:  5,
		BreakerFailureRatio: 0.5,
		BreakerMinRequests:  10,
	}
}

func TestNewClientsBuildsEveryParticipant(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	clients, err := NewClients(participantsConfig(), nil, logg, nil)
	require.NoError(t, err)
	require.NotNil(t, clients.Genres)
	require.NotNil(t, clients.Authors)
	require.NotNil(t, clients.Books)
	require.NotSame(t, clients.Genres.c.policy, clients.Books.c.policy)
}

func TestNewClientsRequiresURLs(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := participantsConfig()
	cfg.AuthorURL = ""
	_, err := NewClients(cfg, nil, logg, nil)
	require.ErrorContains(t, err, "author service url is required")
}

func TestNewClientsRejectsInvalidPolicy(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := participantsConfig()
	cfg.MaxAttempts = 0
	_, err := NewClients(cfg, nil, logg, nil)
	require.ErrorContains(t, err, "genre policy")
}
