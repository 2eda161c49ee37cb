// ABOUTME: Channel to product resolution with case-insensitive channel names
// ABOUTME: Loads the embedded product table or a caller-supplied one

package routing

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

//go:embed data/*.json
var dataFS embed.FS

// ErrUnknownChannel is returned when no product claims a channel.
var ErrUnknownChannel = errors.New("unknown channel")

// DefaultDescription is used in prompts for products without a description.
const DefaultDescription = "This is an enterprise application."

// Product is one supported application and the channels that route to it.
type Product struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Channels    []string      `json:"channels"`
	MockDelay   time.Duration `json:"-"`

	MockDelayMs int64 `json:"mockDelayMs"`
}

// DefaultProducts returns the embedded product table.
func DefaultProducts() ([]Product, error) {
	f, err := dataFS.Open("data/products.json")
	if err != nil {
		return nil, fmt.Errorf("open embedded products: %w", err)
	}
	defer f.Close()
	return LoadProducts(f)
}

// LoadProducts decodes a JSON product table.
func LoadProducts(r io.Reader) ([]Product, error) {
	var products []Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	for i := range products {
		products[i].MockDelay = time.Duration(products[i].MockDelayMs) * time.Millisecond
	}
	return products, nil
}

// Router resolves channel names to product ids.
type Router struct {
	byChannel map[string]string
	products  map[string]Product
}

// NewRouter indexes products by lowercased channel name. When two products claim
// the same channel the later one wins and a warning is logged.
func NewRouter(products []Product, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "routing")

	r := &Router{
		byChannel: make(map[string]string),
		products:  make(map[string]Product, len(products)),
	}
	for _, p := range products {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			continue
		}
		p.ID = id
		r.products[id] = p
		for _, ch := range p.Channels {
			key := strings.ToLower(strings.TrimSpace(ch))
			if key == "" {
				continue
			}
			if prev, ok := r.byChannel[key]; ok && prev != id {
				logger.Warn("channel claimed by two products", "channel", key, "previous", prev, "product", id)
			}
			r.byChannel[key] = id
		}
	}
	logger.Info("routing table loaded", "products", len(r.products), "channels", len(r.byChannel))
	return r
}

// Resolve returns the product id for channelName.
func (r *Router) Resolve(channelName string) (string, error) {
	id, ok := r.byChannel[strings.ToLower(strings.TrimSpace(channelName))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, channelName)
	}
	return id, nil
}

// Product returns the definition for a product id.
func (r *Router) Product(id string) (Product, bool) {
	p, ok := r.products[strings.ToLower(id)]
	return p, ok
}

// Description returns the prompt description for a product id.
func (r *Router) Description(id string) string {
	if p, ok := r.Product(id); ok && p.Description != "" {
		return p.Description
	}
	return DefaultDescription
}

// ProductIDs returns all product ids in sorted order.
func (r *Router) ProductIDs() []string {
	ids := make([]string, 0, len(r.products))
	for id := range r.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Channels returns the sorted channel names routed to a product id.
func (r *Router) Channels(id string) []string {
	var out []string
	for ch, pid := range r.byChannel {
		if pid == id {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}
