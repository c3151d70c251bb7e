package orders

import (
	"bytes"
	"encoding/json"
	"net/url"
)

// Payload is a venue-shaped order request: an ordered mapping from
// venue field name to string value. Field order is preserved so
// emitted requests are deterministic.
type Payload struct {
	keys   []string
	values map[string]string
}

// NewPayload creates an empty payload
func NewPayload() *Payload {
	return &Payload{
		values: make(map[string]string),
	}
}

// Set stores a field value, keeping first-set order for new fields
func (p *Payload) Set(key, value string) {
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns a field value, empty when absent
func (p *Payload) Get(key string) string {
	return p.values[key]
}

// Has reports whether a field is present
func (p *Payload) Has(key string) bool {
	_, exists := p.values[key]
	return exists
}

// ClientID returns the locally generated client order ID
func (p *Payload) ClientID() string {
	return p.values["newClientOrderId"]
}

// Symbol returns the venue symbol field
func (p *Payload) Symbol() string {
	return p.values["symbol"]
}

// Keys returns the field names in insertion order
func (p *Payload) Keys() []string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// Len returns the number of fields
func (p *Payload) Len() int {
	return len(p.keys)
}

// Values converts the payload to url.Values for single-order requests
func (p *Payload) Values() url.Values {
	params := url.Values{}
	for _, k := range p.keys {
		params.Set(k, p.values[k])
	}
	return params
}

// MarshalJSON encodes the payload as a JSON object in field order,
// as required by the batch order endpoint.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
