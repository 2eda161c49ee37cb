// ABOUTME: Intent to action-list lookup per product
// ABOUTME: Exact intent match first, then a case-insensitive scan

package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrNoMapping is returned when a product has no mapping for an intent.
var ErrNoMapping = errors.New("no intent mapping")

// Mapping binds an intent within a product to the actions that serve it.
type Mapping struct {
	AppID      string   `json:"appId"`
	IntentName string   `json:"intentName"`
	APINames   []string `json:"apiNames"`
}

// DefaultMappings returns the embedded intent table.
func DefaultMappings() ([]Mapping, error) {
	f, err := dataFS.Open("data/intents.json")
	if err != nil {
		return nil, fmt.Errorf("open embedded intents: %w", err)
	}
	defer f.Close()
	return LoadMappings(f)
}

// LoadMappings decodes a JSON intent table.
func LoadMappings(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping
	if err := json.NewDecoder(r).Decode(&mappings); err != nil {
		return nil, fmt.Errorf("decode intent mappings: %w", err)
	}
	return mappings, nil
}

// Mapper looks up actions by product and intent.
type Mapper struct {
	byProduct map[string]map[string][]string
}

// NewMapper indexes mappings by product. A later duplicate replaces an earlier one.
func NewMapper(mappings []Mapping) *Mapper {
	m := &Mapper{byProduct: make(map[string]map[string][]string)}
	for _, mp := range mappings {
		product := strings.ToLower(strings.TrimSpace(mp.AppID))
		if product == "" || mp.IntentName == "" {
			continue
		}
		intents, ok := m.byProduct[product]
		if !ok {
			intents = make(map[string][]string)
			m.byProduct[product] = intents
		}
		intents[mp.IntentName] = append([]string(nil), mp.APINames...)
	}
	return m
}

// Actions returns the action names mapped to intent within product.
func (m *Mapper) Actions(product, intent string) ([]string, error) {
	intents := m.byProduct[strings.ToLower(product)]
	if actions, ok := intents[intent]; ok {
		return append([]string(nil), actions...), nil
	}
	for name, actions := range intents {
		if strings.EqualFold(name, intent) {
			return append([]string(nil), actions...), nil
		}
	}
	return nil, fmt.Errorf("%w for appId=%q and intentName=%q", ErrNoMapping, product, intent)
}

// Intents returns the sorted intent names known for product.
func (m *Mapper) Intents(product string) []string {
	intents := m.byProduct[strings.ToLower(product)]
	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
