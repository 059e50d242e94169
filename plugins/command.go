package plugins

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/goliatone/go-botfactory/core"
	jmes "github.com/jmespath/go-jmespath"
)

var optionNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Command is a decoded command event with lookup helpers over its options.
type Command struct {
	core.CommandEvent
	doc any
}

func ParseCommand(payload []byte) (Command, error) {
	event, err := core.ParseCommandEvent(payload)
	if err != nil {
		return Command{}, err
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Command{}, err
	}
	return Command{CommandEvent: event, doc: doc}, nil
}

// Option returns the value of the named option.
func (c Command) Option(name string) (any, bool) {
	if !optionNamePattern.MatchString(name) {
		return nil, false
	}
	value, err := jmes.Search("options[?name=='"+name+"'].value | [0]", c.doc)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

func (c Command) StringOption(name string) (string, error) {
	value, ok := c.Option(name)
	if !ok {
		return "", fmt.Errorf("missing option %q", name)
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	default:
		return fmt.Sprint(typed), nil
	}
}

func (c Command) IntOption(name string) (int64, error) {
	value, ok := c.Option(name)
	if !ok {
		return 0, fmt.Errorf("missing option %q", name)
	}
	switch typed := value.(type) {
	case float64:
		if typed != math.Trunc(typed) {
			return 0, fmt.Errorf("option %q must be an integer", name)
		}
		return int64(typed), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("option %q must be an integer", name)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("option %q must be an integer", name)
	}
}

// FirstOption returns the value of the first option regardless of its name.
func (c Command) FirstOption() (string, error) {
	value, err := jmes.Search("options[0].value", c.doc)
	if err != nil || value == nil {
		return "", fmt.Errorf("command %q has no options", c.Command)
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return fmt.Sprint(value), nil
}
