package dbus

import (
	"fmt"
	"strings"
)

// MatchRule matches messages by equal type, sender, path, interface, or
// member; missing fields are not matched against. Adapted from
// z3ntu-go-dbus's matchrule.go, field names aligned to the rewritten
// Message type (Iface -> Interface).
type MatchRule struct {
	Type      MessageType
	Sender    string
	Path      ObjectPath
	Interface string
	Member    string
}

// String renders the rule the way org.freedesktop.DBus.AddMatch expects it
// (spec §4.7's addMatch convenience wrapper).
func (r *MatchRule) String() string {
	params := make([]string, 0, 5)
	if r.Type != TypeInvalid {
		params = append(params, fmt.Sprintf("type='%s'", r.Type))
	}
	if r.Sender != "" {
		params = append(params, fmt.Sprintf("sender='%s'", r.Sender))
	}
	if r.Path != "" {
		params = append(params, fmt.Sprintf("path='%s'", r.Path))
	}
	if r.Interface != "" {
		params = append(params, fmt.Sprintf("interface='%s'", r.Interface))
	}
	if r.Member != "" {
		params = append(params, fmt.Sprintf("member='%s'", r.Member))
	}
	return strings.Join(params, ",")
}

// match reports whether msg satisfies every field r has set. A rule field
// left at its zero value (TypeInvalid, "") matches anything, so the
// comparison is driven by a table of (want, got) pairs rather than one
// branch per field.
func (r *MatchRule) match(msg *Message) bool {
	if r.Type != TypeInvalid && r.Type != msg.Type {
		return false
	}
	for _, field := range [...][2]string{
		{r.Sender, msg.Sender},
		{string(r.Path), string(msg.Path)},
		{r.Interface, msg.Interface},
		{r.Member, msg.Member},
	} {
		want, got := field[0], field[1]
		if want != "" && want != got {
			return false
		}
	}
	return true
}
