package domain

import (
	"regexp"
	"strings"
	"time"
)

// Company is a merchant entity. Companies are created lazily the first
// time a merchant name is seen and referenced by every later item.
type Company struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Slug       string    `db:"slug"`
	WebsiteURL string    `db:"website_url"`
	IsVerified bool      `db:"is_verified"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a merchant name to its canonical slug form.
// "J.Crew Factory" -> "j-crew-factory".
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
