package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool { return c == ChannelEmail || c == ChannelWhatsApp }

// Step is one reminder in a playbook sequence. OffsetDays is relative to the
// invoice due date.
type Step struct {
	Name       string  `json:"name"`
	OffsetDays int     `json:"offset_days"`
	Channel    Channel `json:"channel"`
}

type Playbook struct {
	ID           string
	Nombre       string
	Activo       bool
	Sequence     []Step
	VentanaDesde ClockTime
	VentanaHasta ClockTime
	LimiteDiario int // 0 means unlimited
}

// DefaultSequence is used when a playbook carries no steps of its own.
var DefaultSequence = []Step{
	{Name: "pre_due_t7", OffsetDays: -7, Channel: ChannelEmail},
	{Name: "pre_due_t3", OffsetDays: -3, Channel: ChannelWhatsApp},
	{Name: "due_t0", OffsetDays: 0, Channel: ChannelEmail},
	{Name: "overdue_t5", OffsetDays: 5, Channel: ChannelWhatsApp},
	{Name: "overdue_t10_escalate", OffsetDays: 10, Channel: ChannelEmail},
}

// Steps returns the playbook sequence, falling back to DefaultSequence.
func (p Playbook) Steps() []Step {
	if len(p.Sequence) == 0 {
		return DefaultSequence
	}
	return p.Sequence
}

// DecodeSequence parses pasos_json. Accepted shapes are a bare array of steps
// or an object {"sequence": [...]}; any other key is an error.
func DecodeSequence(raw []byte) ([]Step, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var steps []Step
	if raw[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&steps); err != nil {
			return nil, eris.Wrap(err, "decode pasos_json")
		}
	} else {
		var wrapper struct {
			Sequence []Step `json:"sequence"`
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wrapper); err != nil {
			return nil, eris.Wrap(err, "decode pasos_json")
		}
		steps = wrapper.Sequence
	}
	if err := ValidateSequence(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func ValidateSequence(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if strings.TrimSpace(s.Name) == "" {
			return eris.Errorf("step %d: empty name", i)
		}
		if seen[s.Name] {
			return eris.Errorf("step %d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if !s.Channel.Valid() {
			return eris.Errorf("step %q: unknown channel %q", s.Name, s.Channel)
		}
	}
	return nil
}

// ClockTime is a time of day with minute precision.
type ClockTime struct {
	Hour, Minute int
}

// ParseClock accepts "HH:MM" or "HH:MM:SS"; seconds are dropped.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, eris.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, eris.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, eris.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d:00", c.Hour, c.Minute) }

// On returns t's calendar day (in t's location) at this time of day.
func (c ClockTime) On(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, t.Location())
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// Within reports whether t's local time of day lies in [from, to].
func Within(t time.Time, from, to ClockTime) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= from.minutes() && m <= to.minutes()
}
