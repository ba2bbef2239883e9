package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes for the meshgate topic tree.
//
//	meshgate/stack/...   traffic to and from the mesh stack daemon
//	meshgate/router/...  border router state, events and operator commands
//	meshgate/system/...  process status and last will
const (
	// TopicPrefix is the root of every meshgate topic.
	TopicPrefix = "meshgate"

	// TopicPrefixStack is the base for mesh stack topics.
	TopicPrefixStack = "meshgate/stack"

	// TopicPrefixRouter is the base for border router topics.
	TopicPrefixRouter = "meshgate/router"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "meshgate/system"
)

// Topics provides builders for meshgate MQTT topics.
//
//	topic := mqtt.Topics{}.StackInterfaceStatus(2)
//	// Returns: "meshgate/stack/interface/2/status"
type Topics struct{}

// =============================================================================
// Stack Topics
// =============================================================================

// StackDriverStatus returns the topic the stack reports driver link changes on.
//
// Example: meshgate/stack/driver/0/status
func (Topics) StackDriverStatus(driverID int) string {
	return fmt.Sprintf("%s/driver/%d/status", TopicPrefixStack, driverID)
}

// StackInterfaceStatus returns the topic the stack reports bootstrap status on.
//
// Example: meshgate/stack/interface/2/status
func (Topics) StackInterfaceStatus(interfaceID int) string {
	return fmt.Sprintf("%s/interface/%d/status", TopicPrefixStack, interfaceID)
}

// StackRequest returns the topic for a request to the stack.
//
// Example: meshgate/stack/request/dhcp_start
func (Topics) StackRequest(op string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefixStack, op)
}

// StackResponse returns the topic the stack answers a request on.
//
// Example: meshgate/stack/response/5b7f...
func (Topics) StackResponse(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefixStack, requestID)
}

// =============================================================================
// Router Topics
// =============================================================================

// RouterState returns the retained router snapshot topic.
//
// Example: meshgate/router/state
func (Topics) RouterState() string {
	return TopicPrefixRouter + "/state"
}

// RouterEvent returns the topic for router events of one kind.
//
// Example: meshgate/router/event/connection
func (Topics) RouterEvent(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixRouter, kind)
}

// RouterCommand returns the topic for an operator command.
//
// Example: meshgate/router/command/retry
func (Topics) RouterCommand(command string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefixRouter, command)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: meshgate/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllStackDriverStatus matches every driver status topic.
//
// Pattern: meshgate/stack/driver/+/status
func (Topics) AllStackDriverStatus() string {
	return TopicPrefixStack + "/driver/+/status"
}

// AllStackInterfaceStatus matches every interface status topic.
//
// Pattern: meshgate/stack/interface/+/status
func (Topics) AllStackInterfaceStatus() string {
	return TopicPrefixStack + "/interface/+/status"
}

// AllStackResponses matches every stack response topic.
//
// Pattern: meshgate/stack/response/+
func (Topics) AllStackResponses() string {
	return TopicPrefixStack + "/response/+"
}

// AllRouterCommands matches every operator command topic.
//
// Pattern: meshgate/router/command/+
func (Topics) AllRouterCommands() string {
	return TopicPrefixRouter + "/command/+"
}

// AllTopics returns a pattern matching all meshgate topics.
//
// Pattern: meshgate/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// =============================================================================
// Topic Parsing
// =============================================================================

// ParseDriverStatusTopic extracts the driver ID from a driver status topic.
func ParseDriverStatusTopic(topic string) (int, error) {
	return parseStatusTopic(topic, "driver")
}

// ParseInterfaceStatusTopic extracts the interface ID from an interface
// status topic.
func ParseInterfaceStatusTopic(topic string) (int, error) {
	return parseStatusTopic(topic, "interface")
}

func parseStatusTopic(topic, kind string) (int, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixStack+"/"+kind+"/")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a %s status topic", ErrInvalidTopic, topic, kind)
	}
	idStr, ok := strings.CutSuffix(rest, "/status")
	if !ok || idStr == "" || strings.Contains(idStr, "/") {
		return 0, fmt.Errorf("%w: %q is not a %s status topic", ErrInvalidTopic, topic, kind)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s id %q: %w", ErrInvalidTopic, kind, idStr, err)
	}
	return id, nil
}

// LastSegment returns the final level of a topic.
//
// Example: "meshgate/stack/response/abc" returns "abc".
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
