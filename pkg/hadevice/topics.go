package hadevice

import "fmt"

// uniqueID is the Home Assistant entity unique_id for one device metric:
// {device_id}_{metric_key}.
func uniqueID(deviceID, metricKey string) string {
	return fmt.Sprintf("%s_%s", deviceID, metricKey)
}

// discoveryTopic is the retained config topic Home Assistant's MQTT
// discovery watches: {prefix}/sensor/{device_id}_{metric_key}/config.
func discoveryTopic(prefix, deviceID, metricKey string) string {
	return fmt.Sprintf("%s/sensor/%s/config", prefix, uniqueID(deviceID, metricKey))
}

// stateTopic is where a metric's decoded value is published:
// {base}/{device_id}/{metric_key}/state.
func stateTopic(base, deviceID, metricKey string) string {
	return fmt.Sprintf("%s/%s/%s/state", base, deviceID, metricKey)
}

// availabilityTopic is the bridge-wide Last-Will-and-Testament topic every
// discovery config points back to.
func availabilityTopic(base string) string {
	return fmt.Sprintf("%s/bridge/status", base)
}
