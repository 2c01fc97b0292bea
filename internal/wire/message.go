// Package wire implements the JSON Message/Report schema (§6) exchanged
// between the SimulationManager and the external validator, and used
// internally by the Scheduler to carry payloads between agents and the
// exchange. Grounded in the teacher's internal/net/messages.go (which framed
// the same concern as fixed-width binary, see legacy_binary.go) but
// rewritten as JSON per spec.md's explicit wire format.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"fenrirsim/internal/types"
)

// Message is the generic envelope every wire exchange uses: `{ occurrence,
// arrival, source, targets, type, payload }` (§6). Targets are delimited by
// `|`; payload is discriminated by Type and decoded by the receiver
// (exchange.Exchange for exchange-bound types, the issuing agent otherwise).
type Message struct {
	Occurrence uint64          `json:"occurrence"`
	Arrival    types.Timestamp `json:"arrival"`
	Source     string          `json:"source"`
	Targets    string          `json:"targets"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// TargetList splits Targets on "|", per §4.6's delivery rule.
func (m Message) TargetList() []string {
	if m.Targets == "" {
		return nil
	}
	return strings.Split(m.Targets, "|")
}

// NewMessage marshals payload and builds a Message envelope.
func NewMessage(occurrence uint64, arrival types.Timestamp, source, targets, msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("wire: marshal payload for %s: %w", msgType, err)
	}
	return Message{
		Occurrence: occurrence,
		Arrival:    arrival,
		Source:     source,
		Targets:    targets,
		Type:       msgType,
		Payload:    raw,
	}, nil
}

// Decode unmarshals m.Payload into dst.
func (m Message) Decode(dst any) error {
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("wire: decode payload for %s: %w", m.Type, err)
	}
	return nil
}

// Message type discriminants (§6).
const (
	TypePlaceOrderMarket   = "PLACE_ORDER_MARKET"
	TypePlaceOrderLimit    = "PLACE_ORDER_LIMIT"
	TypeCancelOrders       = "CANCEL_ORDERS"
	TypeClosePositions     = "CLOSE_POSITIONS"
	TypeResetAgent         = "RESET_AGENT"
	TypeRetrieveL1         = "RETRIEVE_L1"
	TypeRetrieveL2         = "RETRIEVE_L2"
	TypeRetrieveOrders     = "RETRIEVE_ORDERS"
	TypeRetrieveBookBid    = "RETRIEVE_BOOK_BID"
	TypeRetrieveBookAsk    = "RETRIEVE_BOOK_ASK"
	TypeSubscribeEvent     = "SUBSCRIBE_EVENT"
	TypeUnsubscribeEvent   = "UNSUBSCRIBE_EVENT"
	TypePlaceOrderResponse = "PLACE_ORDER_RESPONSE"
	TypeCancelResponse     = "CANCEL_ORDERS_RESPONSE"
	TypeErrorResponse      = "ERROR_RESPONSE"
	TypeDistributedPrefix  = "DISTRIBUTED_"
)

// Delivery target sentinels (§4.6).
const (
	TargetAll      = "*"
	TargetExchange = "EXCHANGE"
)
