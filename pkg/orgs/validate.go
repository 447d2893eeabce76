package orgs

import (
	"regexp"
	"strings"
	"unicode"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/models"

	"golang.org/x/text/unicode/norm"
)

// Permissive RFC 5322 style: non-empty local part, dot-separated domain
// labels, at least one dot after the @.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`)

// ValidEmail reports whether email is acceptable as an invite target.
func ValidEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

// parseInviteRole accepts "admin"/"member" in any case.
func parseInviteRole(raw string) (models.OrgRole, error) {
	role := models.OrgRole(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Invitable() {
		return "", apperr.E(apperr.BadRequest, "role must be one of admin, member")
	}
	return role, nil
}

// Slugify lower-cases name and joins its alphanumeric runs with dashes.
// Accented Latin letters fold to their base letter ("Café" -> "cafe").
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFD.String(strings.ToLower(name)) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark split off by NFD
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 48 {
		slug = strings.TrimSuffix(slug[:48], "-")
	}
	if slug == "" {
		return "organisation"
	}
	return slug
}
