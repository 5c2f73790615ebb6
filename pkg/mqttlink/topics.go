package mqttlink

import "strings"

// TopicPrefix is the first level of every topic.
const TopicPrefix = "m2m"

const (
	upLevel   = "up"
	downLevel = "down"
)

// UpTopic returns the client → server topic of endpoint.
func UpTopic(endpoint string) string {
	return TopicPrefix + "/" + endpoint + "/" + upLevel
}

// DownTopic returns the server → client topic of endpoint.
func DownTopic(endpoint string) string {
	return TopicPrefix + "/" + endpoint + "/" + downLevel
}

// AllUpTopics matches the up topic of every endpoint.
const AllUpTopics = TopicPrefix + "/+/" + upLevel

// EndpointFromTopic returns the endpoint of an up or down topic.
func EndpointFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] == "" {
		return "", false
	}
	if parts[2] != upLevel && parts[2] != downLevel {
		return "", false
	}
	return parts[1], true
}

// ValidEndpoint reports whether endpoint can be used as a topic level.
func ValidEndpoint(endpoint string) bool {
	return endpoint != "" && !strings.ContainsAny(endpoint, "/+#")
}

// topicMatches reports whether topic matches filter, with MQTT '+' and
// '#' wildcards.
func topicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
