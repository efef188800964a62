package participants

import (
	"fmt"

	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
	"github.com/angelmondragon/library-catalog/pkg/resilience"
)

// Clients bundles the three remote services a saga drives.
type Clients struct {
	Genres  *GenreClient
	Authors *AuthorClient
	Books   *BookClient
}

// NewClients builds one client per participant. Each gets its own resilience
// policy so a tripped breaker on one service leaves the others usable.
func NewClients(cfg config.ParticipantsConfig, httpClient Doer, logg *logger.Logger, m *metrics.BreakerMetrics) (*Clients, error) {
	policy := func(name string) (*resilience.Policy, error) {
		p, err := resilience.New(resilience.ConfigFromParticipants(name, cfg), logg, m)
		if err != nil {
			return nil, fmt.Errorf("%s policy: %w", name, err)
		}
		return p, nil
	}

	genrePolicy, err := policy("genre")
	if err != nil {
		return nil, err
	}
	authorPolicy, err := policy("author")
	if err != nil {
		return nil, err
	}
	bookPolicy, err := policy("book")
	if err != nil {
		return nil, err
	}

	genres, err := NewGenreClient(cfg.GenreURL, httpClient, genrePolicy)
	if err != nil {
		return nil, err
	}
	authors, err := NewAuthorClient(cfg.AuthorURL, httpClient, authorPolicy)
	if err != nil {
		return nil, err
	}
	books, err := NewBookClient(cfg.BookURL, httpClient, bookPolicy)
	if err != nil {
		return nil, err
	}
	return &Clients{Genres: genres, Authors: authors, Books: books}, nil
}
