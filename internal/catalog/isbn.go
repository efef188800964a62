package catalog

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

const isbnPrefix = "978"

// newISBN13 draws nine random digits after the 978 prefix and appends the
// check digit.
func newISBN13(intn func(int) int) string {
	if intn == nil {
		intn = rand.IntN
	}
	var b strings.Builder
	b.WriteString(isbnPrefix)
	for i := 0; i < 9; i++ {
		b.WriteString(strconv.Itoa(intn(10)))
	}
	body := b.String()
	return body + strconv.Itoa(isbnCheckDigit(body))
}

func isbnCheckDigit(first12 string) int {
	sum := 0
	for i, r := range first12 {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10
}

// ValidISBN13 checks length, digits and the check digit.
func ValidISBN13(isbn string) bool {
	if len(isbn) != 13 {
		return false
	}
	for _, r := range isbn {
		if r < '0' || r > '9' {
			return false
		}
	}
	return int(isbn[12]-'0') == isbnCheckDigit(isbn[:12])
}
