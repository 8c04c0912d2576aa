package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type DirectiveKind uint8

const (
	DirectiveOK DirectiveKind = iota + 1
	DirectiveErr
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveOK:
		return "ok"
	case DirectiveErr:
		return "error"
	default:
		return "invalid"
	}
}

// Directive is the controller's reply: either a profile to adopt or an
// error message. On the wire it is {"profile":...} or {"error":...}.
type Directive struct {
	Kind    DirectiveKind
	Profile Profile
	Message string
}

var ErrEmptyDirective = errors.New("directive carries neither profile nor error")

func OK(p Profile) Directive {
	return Directive{Kind: DirectiveOK, Profile: p}
}

func Errorf(format string, args ...any) Directive {
	return Directive{Kind: DirectiveErr, Message: fmt.Sprintf(format, args...)}
}

func (d Directive) IsOK() bool {
	return d.Kind == DirectiveOK
}

type directiveWire struct {
	Profile *string `json:"profile,omitempty"`
	Error   *string `json:"error,omitempty"`
}

func (d Directive) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DirectiveOK:
		if !d.Profile.Valid() {
			return nil, fmt.Errorf("marshal directive: %w %q", ErrUnknownProfile, d.Profile)
		}
		p := string(d.Profile)
		return json.Marshal(directiveWire{Profile: &p})
	case DirectiveErr:
		msg := d.Message
		return json.Marshal(directiveWire{Error: &msg})
	default:
		return nil, fmt.Errorf("marshal directive: invalid kind %d", d.Kind)
	}
}

func (d *Directive) UnmarshalJSON(data []byte) error {
	var w directiveWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode directive: %w", err)
	}
	switch {
	case w.Profile != nil:
		p, err := ParseProfile(*w.Profile)
		if err != nil {
			return fmt.Errorf("decode directive: %w", err)
		}
		*d = OK(p)
	case w.Error != nil:
		*d = Directive{Kind: DirectiveErr, Message: *w.Error}
	default:
		return ErrEmptyDirective
	}
	return nil
}
