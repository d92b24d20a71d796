package transport

import "strings"

// MatchTopic reports whether topic matches the MQTT filter pattern. "+"
// matches exactly one level, a trailing "#" matches the parent level and
// everything below it.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, level := range p {
		if level == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

// ToDotted rewrites an MQTT topic or filter for brokers that separate
// levels with ".". multi replaces "#" (">" for NATS, "#" for AMQP); "+"
// always becomes "*". Levels containing "." cannot round trip.
func ToDotted(topic, multi string) string {
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = multi
		}
	}
	return strings.Join(levels, ".")
}

// FromDotted converts a concrete dotted subject or routing key back to an
// MQTT topic.
func FromDotted(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
