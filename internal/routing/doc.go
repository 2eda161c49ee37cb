// ABOUTME: Package routing maps chat channels to products and intents to product actions
// ABOUTME: Ships embedded default tables that config can replace

// Package routing holds the two static lookup tables the pipeline consults.
//
// A Router resolves a channel name (case-insensitive) to a product id. A Mapper
// resolves a detected intent within a product to the ordered list of action names
// to invoke. Both are built once at startup and are read-only afterwards, so they
// are safe for concurrent use without locking.
//
// Default tables are embedded from data/products.json and data/intents.json.
package routing
