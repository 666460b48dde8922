package notify

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadAction = errors.New("malformed action")

// Action verbs carried by notification buttons.
const (
	VerbComplete = "complete"
	VerbCancel   = "cancel"
	VerbTrigger  = "trigger"
)

// Action is a parsed button press:
//
//	complete.<task>.<job>.<person>
//	cancel.<task>.<job>.<person>
//	trigger.<task>
//
// Task ids may contain dots; job ids and person short ids may not. An empty
// person segment (household buttons) means "whoever pressed it".
type Action struct {
	Verb   string
	TaskID string
	JobID  string
	Person string
}

func (a Action) String() string {
	if a.Verb == VerbTrigger {
		return VerbTrigger + "." + a.TaskID
	}
	return strings.Join([]string{a.Verb, a.TaskID, a.JobID, a.Person}, ".")
}

func ParseAction(raw string) (Action, error) {
	raw = strings.TrimSpace(raw)
	verb, rest, ok := strings.Cut(raw, ".")
	if !ok || rest == "" {
		return Action{}, fmt.Errorf("%w: %q", ErrBadAction, raw)
	}

	switch verb {
	case VerbTrigger:
		return Action{Verb: verb, TaskID: rest}, nil
	case VerbComplete, VerbCancel:
		i := strings.LastIndexByte(rest, '.')
		if i < 0 {
			return Action{}, fmt.Errorf("%w: %q", ErrBadAction, raw)
		}
		person := rest[i+1:]
		rest = rest[:i]
		j := strings.LastIndexByte(rest, '.')
		if j <= 0 || j == len(rest)-1 {
			return Action{}, fmt.Errorf("%w: %q", ErrBadAction, raw)
		}
		return Action{Verb: verb, TaskID: rest[:j], JobID: rest[j+1:], Person: person}, nil
	default:
		return Action{}, fmt.Errorf("%w: unknown verb %q", ErrBadAction, verb)
	}
}
