package participants

// Genre is the Genre service representation.
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Created is true only when the create call inserted the row. On the wire
	// it is the status code: 201 for an insert, 200 for an existing genre.
	Created bool `json:"-"`
}

type CreateGenreRequest struct {
	Name string `json:"name"`
}

// Author is identified by its sequential number.
type Author struct {
	Number   int64  `json:"number"`
	Name     string `json:"name"`
	Bio      string `json:"bio,omitempty"`
	PhotoURI string `json:"photoURI,omitempty"`
	// Created follows the same 201/200 rule as Genre.Created.
	Created bool `json:"-"`
}

type CreateAuthorRequest struct {
	Name     string `json:"name"`
	Bio      string `json:"bio,omitempty"`
	PhotoURI string `json:"photoURI,omitempty"`
}

// Book references its genre by name and its authors by number.
type Book struct {
	ISBN        string  `json:"isbn"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	GenreName   string  `json:"genreName"`
	PhotoURI    string  `json:"photoURI,omitempty"`
	AuthorIDs   []int64 `json:"authorIds"`
}

type CreateBookRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	GenreName   string  `json:"genreName"`
	PhotoURI    string  `json:"photoURI,omitempty"`
	AuthorIDs   []int64 `json:"authorIds"`
}
