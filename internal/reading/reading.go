package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// FieldPriority lists candidate field names for one logical field,
// highest priority first.
type FieldPriority []string

// Known field names emitted by rtlamr across SCM, SCM+, IDM, NetIDM and R900.
var (
	MeterIDFields     = FieldPriority{"ERTSerialNumber", "ID", "EndpointID"}
	ConsumptionFields = FieldPriority{"Consumption", "LastConsumption", "LastConsumptionCount"}
)

// lookup returns the first field present in msg.
func (p FieldPriority) lookup(msg map[string]any) (string, any, bool) {
	for _, name := range p {
		if v, ok := msg[name]; ok {
			return name, v, true
		}
	}
	return "", nil, false
}

// Reading is one meter reading decoded from a decoder line.
type Reading struct {
	MeterID     string
	Consumption int64
	Protocol    string

	// Attributes holds the remaining message fields plus "protocol".
	Attributes map[string]any
}

// envelope is the top level of an rtlamr JSON line.
type envelope struct {
	Type    any             `json:"Type"`
	Message json.RawMessage `json:"Message"`
}

// Extractor turns decoder output lines into readings.
type Extractor struct {
	IDFields          FieldPriority
	ConsumptionFields FieldPriority
}

// NewExtractor returns an Extractor using the built-in field tables.
func NewExtractor() *Extractor {
	return &Extractor{
		IDFields:          MeterIDFields,
		ConsumptionFields: ConsumptionFields,
	}
}

// Extract parses one line. Lines that are not JSON, have no Message
// object, or lack an identifier or consumption field yield ok=false.
func (e *Extractor) Extract(line string) (Reading, bool) {
	return e.extract(line, nil)
}

// ExtractFor is Extract restricted to identifiers accepted by known.
func (e *Extractor) ExtractFor(line string, known func(id string) bool) (Reading, bool) {
	if known == nil {
		return Reading{}, false
	}
	return e.extract(line, known)
}

func (e *Extractor) extract(line string, known func(string) bool) (Reading, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return Reading{}, false
	}

	var env envelope
	if err := decode([]byte(line), &env); err != nil {
		return Reading{}, false
	}
	if len(env.Message) == 0 {
		return Reading{}, false
	}

	var msg map[string]any
	if err := decode(env.Message, &msg); err != nil || msg == nil {
		return Reading{}, false
	}

	idField, rawID, ok := e.IDFields.lookup(msg)
	if !ok {
		return Reading{}, false
	}
	id, ok := toID(rawID)
	if !ok {
		return Reading{}, false
	}
	if known != nil && !known(id) {
		return Reading{}, false
	}

	consumptionField, rawConsumption, ok := e.ConsumptionFields.lookup(msg)
	if !ok {
		return Reading{}, false
	}
	consumption, ok := toConsumption(rawConsumption)
	if !ok {
		return Reading{}, false
	}

	delete(msg, idField)
	delete(msg, consumptionField)

	protocol, _ := env.Type.(string)
	msg["protocol"] = env.Type

	return Reading{
		MeterID:     id,
		Consumption: consumption,
		Protocol:    protocol,
		Attributes:  msg,
	}, true
}

// errTrailingData rejects input holding more than one JSON value.
var errTrailingData = errors.New("trailing data after JSON value")

// decode unmarshals exactly one JSON value, preserving numbers as written.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// toID accepts numeric or string identifiers.
func toID(v any) (string, bool) {
	switch id := v.(type) {
	case json.Number:
		return id.String(), true
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	default:
		return "", false
	}
}

// toConsumption coerces numbers and numeric strings to a non-negative integer.
func toConsumption(v any) (int64, bool) {
	var s string
	switch c := v.(type) {
	case json.Number:
		s = c.String()
	case string:
		s = strings.TrimSpace(c)
	default:
		return 0, false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n >= 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
