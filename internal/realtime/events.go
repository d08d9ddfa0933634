package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zulandar/droptrack/internal/models"
)

// Outbound event names.
const (
	EventJoinChat       = "entrar_chat"
	EventLeaveChat      = "sair_chat"
	EventSendMessage    = "enviar_mensagem"
	EventTyping         = "digitando"
	EventStoppedTyping  = "parou_digitar"
	EventUpdateLocation = "atualizar_localizacao"
	EventDeliveryStatus = "delivery:status"
)

// Inbound event names.
const (
	EventNewMessage          = "nova_mensagem"
	EventMessageRead         = "mensagem_lida"
	EventUserTyping          = "usuario_digitando"
	EventUserStoppedTyping   = "usuario_parou_digitar"
	EventLocationUpdated     = "atualizacao_localizacao"
	EventStatusUpdated       = "delivery:status:updated"
	EventStatusUpdatedLegacy = "status_atualizado"
	EventChatJoined          = "chat_joined"
	EventMessageSent         = "mensagem_enviada"
	EventNotification        = "notification"
	EventChatError           = "chat_error"
	EventError               = "error"
)

// Envelope is the wire frame: {"event": name, "data": payload}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// RoomPayload names a chat room by its order id.
type RoomPayload struct {
	OrderID models.FlexID `json:"id_encomenda"`
}

// SendPayload announces a sent chat line to the room.
type SendPayload struct {
	OrderID models.FlexID `json:"id_encomenda"`
	Message string        `json:"mensagem"`
}

// LocationPayload is an outbound position report.
type LocationPayload struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	OrderID   models.FlexID `json:"id_encomenda,omitempty"`
}

// StatusPayload is an outbound delivery status change.
type StatusPayload struct {
	OrderID models.FlexID `json:"id_encomenda"`
	Status  string        `json:"status"`
}

// MessageEvent is an inbound chat line. The backend sends mensagem either
// as the full record or as bare text.
type MessageEvent struct {
	OrderID models.FlexID
	Message models.Message
	Sender  string
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *MessageEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID  models.FlexID   `json:"id_encomenda"`
		Mensagem json.RawMessage `json:"mensagem"`
		Sender   string          `json:"remetente"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.OrderID = raw.OrderID
	e.Sender = raw.Sender
	e.Message = models.Message{}
	body := bytes.TrimSpace(raw.Mensagem)
	switch {
	case len(body) == 0 || bytes.Equal(body, []byte("null")):
	case body[0] == '"':
		if err := json.Unmarshal(body, &e.Message.Body); err != nil {
			return err
		}
	default:
		if err := json.Unmarshal(body, &e.Message); err != nil {
			return err
		}
	}
	if e.Message.Sender == "" {
		e.Message.Sender = raw.Sender
	}
	if e.Sender == "" {
		e.Sender = e.Message.Sender
	}
	if e.Message.OrderID == "" {
		e.Message.OrderID = raw.OrderID
	}
	if e.OrderID == "" {
		e.OrderID = e.Message.OrderID
	}
	return nil
}

// ReadEvent is an inbound read receipt.
type ReadEvent struct {
	MessageID models.FlexID `json:"id_mensagem"`
	OrderID   models.FlexID `json:"id_encomenda"`
}

// TypingEvent is an inbound typing or stopped-typing signal.
type TypingEvent struct {
	OrderID models.FlexID `json:"id_encomenda"`
	User    string        `json:"usuario"`
}

// LocationEvent is an inbound counterpart position.
type LocationEvent struct {
	OrderID   models.FlexID `json:"id_encomenda"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
}

// Point returns the event position.
func (e LocationEvent) Point() models.LatLng {
	return models.LatLng{Lat: e.Latitude, Lng: e.Longitude}
}

// StatusEvent is an inbound delivery status change.
type StatusEvent struct {
	OrderID models.FlexID `json:"id_encomenda"`
	Status  string        `json:"status"`
}

// NotificationEvent is an inbound user notification.
type NotificationEvent struct {
	Message string `json:"mensagem"`
}

// ErrorEvent carries a server-side error description.
type ErrorEvent struct {
	Message string `json:"message"`
}
