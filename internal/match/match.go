package match

import "nftwatch/internal/model"

// Subscribers is the registry view the engine reads.
type Subscribers interface {
	SubscribersOf(id model.CollectionID) []int64
	PreferencesOf(userID int64) model.Preferences
}

// Match pairs an event with a subscriber whose filter accepts it.
type Match struct {
	UserID      int64
	Preferences model.Preferences
	Event       model.TransactionEvent
}

// Engine fans events out to subscribers.
type Engine struct {
	subs Subscribers
}

func NewEngine(subs Subscribers) *Engine {
	return &Engine{subs: subs}
}

// Match returns one entry per subscriber of the event's collection whose
// alert filter allows the event type, in ascending user order.
func (e *Engine) Match(event model.TransactionEvent) []Match {
	users := e.subs.SubscribersOf(event.Collection)
	if len(users) == 0 {
		return nil
	}
	out := make([]Match, 0, len(users))
	for _, user := range users {
		prefs := e.subs.PreferencesOf(user)
		if !prefs.Filter.Allows(event.Type) {
			continue
		}
		out = append(out, Match{UserID: user, Preferences: prefs, Event: event})
	}
	return out
}
