package homeassistant

import (
	"context"
	"strings"

	"famcomp/internal/chore"
)

const personDomain = "person."

// Persons lists the person entities.
func (c *Client) Persons(ctx context.Context) ([]chore.Person, error) {
	states, err := c.States(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chore.Person, 0, len(states))
	for _, st := range states {
		if !IsPerson(st.EntityID) {
			continue
		}
		out = append(out, PersonFromState(st))
	}
	return out, nil
}

func IsPerson(entityID string) bool {
	return strings.HasPrefix(entityID, personDomain)
}

func IsHome(state string) bool {
	return strings.EqualFold(strings.TrimSpace(state), "home")
}

func PersonFromState(st EntityState) chore.Person {
	return chore.Person{
		ID:         st.EntityID,
		Name:       st.StringAttr("friendly_name"),
		InternalID: st.StringAttr("user_id"),
		IsHome:     IsHome(st.State),
	}
}

// ParseStateChange decodes a state_changed event. ok is false for non-person
// entities and removals.
func ParseStateChange(ev Event) (entityID string, home bool, ok bool) {
	var sc StateChange
	if err := ev.Decode(&sc); err != nil {
		return "", false, false
	}
	if !IsPerson(sc.EntityID) || sc.NewState == nil {
		return "", false, false
	}
	return sc.EntityID, IsHome(sc.NewState.State), true
}
