package subscribers

import (
	"context"
	"errors"
)

// Subscriber is an external recipient assigned to one floor.
type Subscriber struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name"`
	Floor int    `json:"floor" yaml:"floor"`
}

// Directory lists subscriber assignments. Registration is owned elsewhere.
type Directory interface {
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
}

var errNilDirectory = errors.New("subscribers: nil directory")

// OnFloor filters subscribers assigned to floor.
func OnFloor(all []Subscriber, floor int) []Subscriber {
	var out []Subscriber
	for _, sub := range all {
		if sub.Floor == floor && sub.ID != "" {
			out = append(out, sub)
		}
	}
	return out
}

// Static is a fixed directory.
type Static []Subscriber

// ListSubscribers returns a copy of the list.
func (s Static) ListSubscribers(context.Context) ([]Subscriber, error) {
	return append([]Subscriber(nil), s...), nil
}
