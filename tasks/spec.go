package tasks

import (
	"fmt"
	"strings"
)

// MessageParams are the parameters of a message task.
type MessageParams struct {
	Text string `json:"text"`
}

// Spec is a request to launch one task.
type Spec struct {
	Kind    Kind
	Message *MessageParams
}

// ParseSpec builds a Spec from a wire key and the optional message text.
// Text is ignored for kinds other than message.
func ParseSpec(key, text string) (Spec, error) {
	kind, err := ParseKind(key)
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{Kind: kind}
	if kind == KindMessage {
		spec.Message = &MessageParams{Text: text}
	}
	return spec, spec.Validate()
}

// Validate checks that the parameters match the kind.
func (s Spec) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: kind %d", ErrInvalidSpec, s.Kind)
	}
	switch s.Kind {
	case KindMessage:
		if s.Message == nil || strings.TrimSpace(s.Message.Text) == "" {
			return fmt.Errorf("%w: message text required", ErrInvalidSpec)
		}
	default:
		if s.Message != nil {
			return fmt.Errorf("%w: %s takes no message", ErrInvalidSpec, s.Kind)
		}
	}
	return nil
}

// Args returns the command-line arguments that re-create this spec with the
// run subcommand.
func (s Spec) Args() []string {
	args := []string{s.Kind.Key()}
	if s.Kind == KindMessage && s.Message != nil {
		args = append(args, "--text", s.Message.Text)
	}
	return args
}
