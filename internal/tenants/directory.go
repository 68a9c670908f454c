// Package tenants holds the static phone-number to tenant directory built once
// at startup.
package tenants

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"openphone-relay/internal/telephony"
)

var (
	ErrEmptyDirectory     = errors.New("tenants: directory configuration is empty")
	ErrMalformedDirectory = errors.New("tenants: directory configuration is malformed")
)

// Tenant is one customer account: its own OpenPhone number and the CRM
// credential used for every CRM call made on its behalf.
type Tenant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	OpenPhoneNumber string `json:"openPhoneNumber"`
	Credential      string `json:"credential"`
}

// Route is the result of matching a call's endpoints against the directory.
type Route struct {
	Tenant Tenant
	// OwnNumber is the tenant's number, normalized.
	OwnNumber string
	// Counterparty is the other endpoint, normalized.
	Counterparty string
}

// Directory is immutable after construction and safe for concurrent reads.
type Directory struct {
	tenants  []Tenant
	byNumber map[string]Tenant
	byID     map[string]Tenant
	byCred   map[string]Tenant
	warnings []string
}

// Load parses raw configuration into a Directory. On error the returned
// directory is empty but usable, so routing degrades to "unrouted" instead of
// taking the process down.
func Load(raw string) (*Directory, error) {
	list, err := Parse(raw)
	if err != nil {
		return New(nil), err
	}
	return New(list), nil
}

// Parse accepts either a JSON array of tenant descriptors or the older
// number→credential object.
func Parse(raw string) ([]Tenant, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" || raw == "{}" {
		return nil, ErrEmptyDirectory
	}

	var list []Tenant
	switch raw[0] {
	case '[':
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDirectory, err)
		}
	case '{':
		var keyMap map[string]string
		if err := json.Unmarshal([]byte(raw), &keyMap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDirectory, err)
		}
		list = fromKeyMap(keyMap)
	default:
		return nil, fmt.Errorf("%w: expected a JSON array or object", ErrMalformedDirectory)
	}

	if len(list) == 0 {
		return nil, ErrEmptyDirectory
	}
	for i := range list {
		t := &list[i]
		t.ID = strings.TrimSpace(t.ID)
		t.Name = strings.TrimSpace(t.Name)
		t.OpenPhoneNumber = strings.TrimSpace(t.OpenPhoneNumber)
		t.Credential = strings.TrimSpace(t.Credential)
		if t.ID == "" || t.Credential == "" || telephony.NormalizePhone(t.OpenPhoneNumber) == "" {
			return nil, fmt.Errorf("%w: entry %d needs id, openPhoneNumber and credential", ErrMalformedDirectory, i)
		}
		if t.Name == "" {
			t.Name = t.ID
		}
	}
	return list, nil
}

func fromKeyMap(m map[string]string) []Tenant {
	numbers := make([]string, 0, len(m))
	for n := range m {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	out := make([]Tenant, 0, len(numbers))
	for _, n := range numbers {
		id := strings.TrimPrefix(telephony.NormalizePhone(n), "+")
		out = append(out, Tenant{ID: id, Name: n, OpenPhoneNumber: n, Credential: m[n]})
	}
	return out
}

// New indexes tenants. When a number or credential appears twice the first
// entry wins and a warning is recorded. Display names are unique per tenant id:
// a later tenant reusing a name becomes "Name (id)", since reports group by name.
func New(list []Tenant) *Directory {
	d := &Directory{
		byNumber: make(map[string]Tenant, len(list)),
		byID:     make(map[string]Tenant, len(list)),
		byCred:   make(map[string]Tenant, len(list)),
	}
	nameOwner := make(map[string]string, len(list))
	for _, t := range list {
		if prev, ok := d.byID[t.ID]; ok {
			t.Name = prev.Name
		} else if owner, taken := nameOwner[t.Name]; taken && owner != t.ID {
			name := t.Name
			for taken {
				name = fmt.Sprintf("%s (%s)", name, t.ID)
				_, taken = nameOwner[name]
			}
			d.warnings = append(d.warnings, fmt.Sprintf("name %q is configured for %q and %q; showing %q as %q", t.Name, owner, t.ID, t.ID, name))
			t.Name = name
		}
		nameOwner[t.Name] = t.ID

		num := telephony.NormalizePhone(t.OpenPhoneNumber)
		if prev, ok := d.byNumber[num]; ok {
			d.warnings = append(d.warnings, fmt.Sprintf("number %s is configured for %q and %q; using %q", num, prev.ID, t.ID, prev.ID))
		} else {
			d.byNumber[num] = t
		}
		if _, ok := d.byID[t.ID]; !ok {
			d.byID[t.ID] = t
			d.tenants = append(d.tenants, t)
		}
		if prev, ok := d.byCred[t.Credential]; !ok {
			d.byCred[t.Credential] = t
		} else if prev.ID != t.ID {
			d.warnings = append(d.warnings, fmt.Sprintf("tenants %q and %q share a credential; reports attribute it to %q", prev.ID, t.ID, prev.ID))
		}
	}
	return d
}

// Warnings lists non-fatal configuration problems found while indexing.
func (d *Directory) Warnings() []string {
	return append([]string(nil), d.warnings...)
}

// Len is the number of distinct tenants.
func (d *Directory) Len() int { return len(d.tenants) }

func (d *Directory) ByNumber(number string) (Tenant, bool) {
	t, ok := d.byNumber[telephony.NormalizePhone(number)]
	return t, ok
}

func (d *Directory) ByID(id string) (Tenant, bool) {
	t, ok := d.byID[id]
	return t, ok
}

func (d *Directory) ByCredential(credential string) (Tenant, bool) {
	t, ok := d.byCred[credential]
	return t, ok
}

// All returns tenants deduplicated by id, in configuration order.
func (d *Directory) All() []Tenant {
	return append([]Tenant(nil), d.tenants...)
}

// Route tests from, then to. The endpoint that did not match becomes the
// counterparty.
func (d *Directory) Route(from, to string) (Route, bool) {
	if t, ok := d.ByNumber(from); ok {
		return Route{Tenant: t, OwnNumber: telephony.NormalizePhone(from), Counterparty: telephony.NormalizePhone(to)}, true
	}
	if t, ok := d.ByNumber(to); ok {
		return Route{Tenant: t, OwnNumber: telephony.NormalizePhone(to), Counterparty: telephony.NormalizePhone(from)}, true
	}
	return Route{}, false
}
