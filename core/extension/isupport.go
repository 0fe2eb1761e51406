package extension

import (
	"fmt"
	"sort"

	"github.com/artpar/ircmod/core/module"
)

// ISupportToken is one RPL_ISUPPORT token, e.g. MSGREFTYPES=msgid,timestamp.
type ISupportToken struct {
	Meta
	value string
}

func (t *ISupportToken) rebind(req *ISupportToken) { t.value = req.value }

// Value returns the token value, "" for a bare token.
func (t *ISupportToken) Value() string { return t.value }

// ISupportRegistry holds the advertised ISUPPORT tokens.
type ISupportRegistry struct {
	*Registry[*ISupportToken]
}

func validISupportName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Add registers a token, or revives an unloaded one with the same name.
// Token names must be uppercase alphanumeric.
func (r *ISupportRegistry) Add(owner *module.Module, name, value string) (*ISupportToken, error) {
	if !validISupportName(name) {
		return nil, r.fail(owner, fmt.Errorf("isupport token %q: name must be uppercase alphanumeric: %w",
			name, module.ErrInvalid))
	}
	req := &ISupportToken{Meta: Meta{name: name}, value: value}
	return r.Registry.Add(owner, req)
}

// SetValue replaces the value of an active token.
func (r *ISupportRegistry) SetValue(name, value string) error {
	t, ok := r.Find(name)
	if !ok {
		return fmt.Errorf("isupport token %q: %w", name, module.ErrNotFound)
	}
	r.mu.Lock()
	t.value = value
	r.mu.Unlock()
	return nil
}

// Line renders the active tokens in sorted order, the way they are
// emitted in RPL_ISUPPORT.
func (r *ISupportRegistry) Line() []string {
	entries := r.Entries()
	out := make([]string, 0, len(entries))
	for _, t := range entries {
		if t.value == "" {
			out = append(out, t.Name())
		} else {
			out = append(out, t.Name()+"="+t.value)
		}
	}
	sort.Strings(out)
	return out
}
