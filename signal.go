package dbus

import "fmt"

// SignalWatch is the handle returned by WatchSignal; Cancel removes the
// bus-side match rule, while the local handler stays registered.
//
// Grounded on z3ntu-go-dbus's signal.go watchSignal/SignalWatch, collapsed
// from its channel-delivered design (a goroutine pushing to watch.C) into
// the synchronous callback model spec §4.7/§9 mandates: registered
// signal_handlers are invoked inline, on the caller's own goroutine, during
// waitMessage/waitOnHandle or inside the correlation loop. The
// per-(path,interface,member) signalWatchSet index is also dropped: with a
// handful of handlers per connection a linear scan (signalHandler.matches,
// conn.go) is simpler and plenty fast, and matches spec §4.7's "dispatch to
// every matching registered handler" wording more directly than an index
// built for channel fan-out.
type SignalWatch struct {
	conn   *Connection
	rule   *MatchRule
	cancelled bool
}

// WatchSignal implements the convenience pairing of addMatch with
// registerSignalHandler: add the bus-side match rule, then register a
// local handler invoked synchronously whenever a matching Signal is seen.
func (c *Connection) WatchSignal(rule *MatchRule, cb func(*Message)) (*SignalWatch, error) {
	if rule.Type != TypeInvalid && rule.Type != TypeSignal {
		return nil, fmt.Errorf("dbus: match rule is not for signals")
	}
	rule.Type = TypeSignal

	if err := c.addMatch(rule); err != nil {
		return nil, err
	}
	c.registerSignalHandler(rule.Interface, rule.Member, func(msg *Message, ctx interface{}) {
		if rule.Path != "" && rule.Path != msg.Path {
			return
		}
		if rule.Sender != "" && rule.Sender != msg.Sender {
			return
		}
		cb(msg)
	}, nil)

	return &SignalWatch{conn: c, rule: rule}, nil
}

// Cancel removes the bus-side match rule. The local handler is left in
// place (harmless: it will simply stop being fed matching signals once the
// bus stops delivering them) — matching the single-threaded model's lack
// of any handler-removal primitive in spec §4.7.
func (w *SignalWatch) Cancel() error {
	if w.cancelled {
		return nil
	}
	w.cancelled = true
	return w.conn.removeMatch(w.rule)
}
