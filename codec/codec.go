// Package codec turns raw frames from the microcontroller link into field
// maps. Decoders are tried in a fixed priority order and the first match
// wins; a frame matching nothing is discarded by the caller.
package codec

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Fields maps canonical field names to values. NaN means "reported with no
// data this cycle"; a missing key means "not reported at all".
type Fields map[string]float64

// FrameFields is the wire order of the delimited protocol.
var FrameFields = []string{
	"voltage",
	"ax", "ay", "az",
	"gx", "gy", "gz",
	"roll", "pitch", "yaw",
	"rpm", "gear",
}

// invertedFields are negated after parsing to correct for the physical
// mounting orientation of the IMU. Roll is deliberately left alone; the
// per-field list matches the hardware documentation and must not be
// generalized without hardware-team confirmation.
var invertedFields = []string{"pitch", "yaw"}

type Decoder interface {
	TryDecode(line string) (Fields, bool)
}

// Codec tries each decoder in order and stops at the first match.
type Codec struct {
	decoders []Decoder
}

// New returns the standard microcontroller codec: delimited frames first,
// then JSON, then the legacy labeled-value text protocol.
func New() *Codec {
	return &Codec{
		decoders: []Decoder{
			&Delimited{Separator: "\t", Fields: FrameFields, Invert: invertedFields},
			&KeyValue{Aliases: jsonAliases},
			&Legacy{Patterns: legacyPatterns},
		},
	}
}

func (c *Codec) Decode(line string) (Fields, bool) {
	for _, d := range c.decoders {
		if fields, ok := d.TryDecode(line); ok {
			return fields, true
		}
	}
	return nil, false
}

// Delimited decodes the fixed-arity separated numeric frame. A frame whose
// field count differs from len(Fields) is rejected outright rather than
// partially matched, so debug output leaking onto the link never decodes.
type Delimited struct {
	Separator string
	Fields    []string
	Invert    []string
}

func (d *Delimited) TryDecode(line string) (Fields, bool) {
	if !strings.Contains(line, d.Separator) {
		return nil, false
	}
	parts := strings.Split(line, d.Separator)
	if len(parts) != len(d.Fields) {
		return nil, false
	}
	fields := make(Fields, len(parts))
	for i, name := range d.Fields {
		s := strings.TrimSpace(parts[i])
		if s == "" {
			fields[name] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			fields[name] = math.NaN()
			continue
		}
		fields[name] = v
	}
	for _, name := range d.Invert {
		if v, ok := fields[name]; ok && !math.IsNaN(v) {
			fields[name] = -v
		}
	}
	return fields, true
}

var jsonAliases = map[string]string{
	"v":    "voltage",
	"rpm":  "rpm",
	"eng":  "eng_temp",
	"gear": "gear",
}

// KeyValue decodes the JSON compatibility format. Known keys are projected
// onto canonical names; unknown keys are ignored; keys missing from the
// object are absent from the result, not NaN.
type KeyValue struct {
	Aliases map[string]string
}

func (k *KeyValue) TryDecode(line string) (Fields, bool) {
	var obj map[string]json.Number
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	fields := make(Fields)
	for key, name := range k.Aliases {
		n, ok := obj[key]
		if !ok {
			continue
		}
		if v, err := n.Float64(); err == nil {
			fields[name] = v
		}
	}
	return fields, true
}

var legacyPatterns = map[string]*regexp.Regexp{
	"voltage":  regexp.MustCompile(`(?i)V_bat:\s*(\d+\.?\d*)V?`),
	"rpm":      regexp.MustCompile(`(?i)RPM:\s*(\d+)`),
	"eng_temp": regexp.MustCompile(`(?i)ENG:\s*(\d+)C?`),
	"gear":     regexp.MustCompile(`(?i)GEAR:\s*(\d+)`),
}

// Legacy scans for labeled-value patterns from the old text protocol.
// Fields with no match are simply absent; a line matching no pattern at all
// is unrecognized.
type Legacy struct {
	Patterns map[string]*regexp.Regexp
}

func (l *Legacy) TryDecode(line string) (Fields, bool) {
	fields := make(Fields)
	for name, pattern := range l.Patterns {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			fields[name] = v
		}
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}
