package kitchen

import (
	"strconv"
	"strings"
)

const (
	DefaultOrderTopicPrefix = "restaurant/orders/"
	DefaultFoodTopicPrefix  = "restaurant/foods/"
)

// Topics holds the inbound and outbound topic prefixes. Both end with "/".
type Topics struct {
	OrderPrefix string
	FoodPrefix  string
}

// DefaultTopics returns the restaurant/orders and restaurant/foods prefixes.
func DefaultTopics() Topics {
	return Topics{OrderPrefix: DefaultOrderTopicPrefix, FoodPrefix: DefaultFoodTopicPrefix}
}

// NewTopics normalises both prefixes to end with "/". Empty values fall back
// to the defaults.
func NewTopics(orderPrefix, foodPrefix string) Topics {
	if orderPrefix == "" {
		orderPrefix = DefaultOrderTopicPrefix
	}
	if foodPrefix == "" {
		foodPrefix = DefaultFoodTopicPrefix
	}
	return Topics{OrderPrefix: withSlash(orderPrefix), FoodPrefix: withSlash(foodPrefix)}
}

func withSlash(prefix string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// OrderWildcard is the subscription pattern for every inbound order.
func (t Topics) OrderWildcard() string {
	return t.OrderPrefix + "#"
}

// IsOrderTopic reports whether topic lives under the order prefix.
func (t Topics) IsOrderTopic(topic string) bool {
	return strings.HasPrefix(topic, t.OrderPrefix)
}

// FoodTopic renders the outbound topic for table. Non-positive tables map
// to the 0 topic used for orders whose table could not be recovered.
func (t Topics) FoodTopic(table int) string {
	if table < 0 {
		table = 0
	}
	return t.FoodPrefix + strconv.Itoa(table)
}
