package device

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/enigmaiot/enigmaiot/espnow"
)

// Home Assistant discovery forwarding. Nodes describe their entities as
// MsgPack; the gateway decodes, re-encodes as JSON and hands topic+payload to
// the application, paced by a two-speed queue so a burst of registrations
// after a gateway restart does not flood the MQTT side. The first item waits
// HAFirstDiscoveryDelay, the rest HANextDiscoveryDelay; both double when the
// originating peer is sleepy, since its entities cannot react sooner anyway.

type haItem struct {
	topic   string
	payload []byte
	sleepy  bool
}

type haQueue struct {
	items []haItem
	due   time.Time
}

func (q *haQueue) enqueue(item haItem, now time.Time) {
	if len(q.items) == 0 {
		delay := HAFirstDiscoveryDelay
		if item.sleepy {
			delay *= 2
		}
		q.due = now.Add(delay)
	}
	q.items = append(q.items, item)
}

// dispatch emits at most one item per call once its delay has elapsed.
func (q *haQueue) dispatch(now time.Time, emit func(topic string, payload []byte)) {
	if len(q.items) == 0 || now.Before(q.due) {
		return
	}
	item := q.items[0]
	q.items = q.items[1:]
	emit(item.topic, item.payload)
	if len(q.items) > 0 {
		delay := HANextDiscoveryDelay
		if q.items[0].sleepy {
			delay *= 2
		}
		q.due = now.Add(delay)
	}
}

// decodeHADiscovery converts the node's MsgPack entity description to the
// JSON payload Home Assistant expects.
func decodeHADiscovery(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, oops.Errorf("decoding discovery msgpack: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, oops.Errorf("encoding discovery json: %w", err)
	}
	return out, nil
}

// haTopic builds the discovery topic for a node, preferring its claimed name
// over the raw address.
func haTopic(networkName, nodeName string, addr espnow.Addr) string {
	id := nodeName
	if id == "" {
		id = addr.String()
	}
	return fmt.Sprintf("%s/%s/hass_discovery", networkName, id)
}
