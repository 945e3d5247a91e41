// Package normalize canonicalizes user-entered identity fields.
//
// Stored forms (Surname, GivenName, Email) are what the roster and user
// documents hold. MatchKey is stricter and is only ever used to compare two
// values; it must never be written to the database as a display value.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripAccents decomposes s (NFD), drops combining marks and recomposes.
func StripAccents(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Surname returns the stored form of a family name ("Dupont-Légaré " -> "DUPONT-LEGARE").
func Surname(s string) string {
	return strings.ToUpper(strings.TrimSpace(StripAccents(s)))
}

// GivenName returns the stored form of a given name ("Élodie" -> "elodie").
func GivenName(s string) string {
	return strings.ToLower(strings.TrimSpace(StripAccents(s)))
}

// MatchKey folds s for equality checks only: accents stripped, lower-cased,
// and whitespace, hyphens and underscores removed, so "Jean-Paul" and
// "jean paul" compare equal.
func MatchKey(s string) string {
	folded := strings.ToLower(StripAccents(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SameName reports whether two (surname, given name) pairs identify the same person.
func SameName(nomA, prenomA, nomB, prenomB string) bool {
	return MatchKey(nomA) == MatchKey(nomB) && MatchKey(prenomA) == MatchKey(prenomB)
}

// DedupKey is the compound key used to reject a second account for the same human.
func DedupKey(nom, prenom string) string {
	return MatchKey(nom) + "|" + MatchKey(prenom)
}

// Email trims and lower-cases an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace and preserves case.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// Code trims a user-typed code. Case is preserved; the code resolver decides
// which case variants to try.
func Code(s string) string {
	return strings.TrimSpace(s)
}
