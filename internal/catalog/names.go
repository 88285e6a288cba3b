// Package catalog owns the global permission catalog: the naming convention
// for permissions, the system permission set and the derivation of section
// permissions.
package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wolfeidau/tenantcore/internal/models"
)

// Prefix starts every permission name.
const Prefix = "Can"

// Actions used by the system and section permissions.
const (
	ActionCreate = "Create"
	ActionRead   = "Read"
	ActionUpdate = "Update"
	ActionDelete = "Delete"
)

// sectionActions is the fixed order of generated section permissions.
var sectionActions = []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Name builds a permission name from an action and a subject,
// e.g. Name("create", "user") is CanCreateUser.
func Name(action, subject string) string {
	return Prefix + NormalizeSubject(action) + NormalizeSubject(subject)
}

// NormalizeSubject trims s, title-cases each word, folds accented letters to
// their base letter and drops every character that is not a letter or digit.
// "  sales invoices (eu) " becomes "SalesInvoicesEu" and "Café" becomes
// "Cafe". Letters and digits outside ASCII that do not fold are kept, so
// the result may not be a valid permission subject; SectionKey rejects those.
func NormalizeSubject(s string) string {
	titled := cases.Title(language.Und, cases.NoLower).String(strings.TrimSpace(s))

	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), titled)
	if err != nil {
		folded = titled
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SectionKey returns the normalized subject a section's permissions are
// derived from. Names with letters or digits that have no ASCII form are
// rejected rather than truncated.
func SectionKey(section string) (string, error) {
	key := NormalizeSubject(section)
	if key == "" {
		return "", fmt.Errorf("%w: section name %q has no letters or digits", models.ErrInvalid, section)
	}
	for _, r := range key {
		if r > unicode.MaxASCII {
			return "", fmt.Errorf("%w: section name %q contains %q, only letters a-z and digits are allowed", models.ErrInvalid, section, r)
		}
	}
	return key, nil
}

// SectionPermissionNames derives the four permissions gating a section's data,
// in create, read, update, delete order. The result depends only on the
// section name so re-provisioning yields the same names.
func SectionPermissionNames(section string) ([]string, error) {
	key, err := SectionKey(section)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(sectionActions))
	for _, action := range sectionActions {
		names = append(names, Prefix+action+"DataInSection"+key)
	}
	return names, nil
}

// Definition describes a permission to seed.
type Definition struct {
	Name        string
	Description string
}

// SystemPermissions returns the immutable permissions every deployment has.
func SystemPermissions() []Definition {
	var defs []Definition
	for _, subject := range []string{"User", "Role", "Section"} {
		for _, action := range sectionActions {
			defs = append(defs, Definition{
				Name:        Name(action, subject),
				Description: fmt.Sprintf("%s %ss in the tenant", action, strings.ToLower(subject)),
			})
		}
	}
	defs = append(defs,
		Definition{Name: Name("Read", "Permission"), Description: "List the permission catalog"},
		Definition{Name: Name("Assign", "Role"), Description: "Assign roles to users and permissions to roles"},
	)
	return defs
}
