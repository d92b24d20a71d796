// Package kitchen holds the order fulfilment rules: turning untyped order
// payloads into validated Orders, drawing a preparation time, and shaping the
// FoodEvent published for every processed order. Nothing here performs I/O.
package kitchen
