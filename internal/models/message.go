package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks identifiers generated locally for optimistic entries.
const TempIDPrefix = "temp_"

// Message is one chat line of an order conversation.
type Message struct {
	ID        FlexID    `json:"id_mensagem,omitempty"`
	TempID    string    `json:"temp_id,omitempty"`
	OrderID   FlexID    `json:"id_encomenda,omitempty"`
	Body      string    `json:"mensagem"`
	Sender    string    `json:"remetente"`
	CreatedAt time.Time `json:"criado_em"`
	Read      bool      `json:"lida,omitempty"`
}

// Optimistic reports whether the message was created locally and has not
// been confirmed by the backend.
func (m Message) Optimistic() bool {
	return m.ID == "" && strings.HasPrefix(m.TempID, TempIDPrefix)
}

// Renderable reports whether the message carries enough data to be shown.
func (m Message) Renderable() bool {
	return strings.TrimSpace(m.Body) != "" && m.Sender != ""
}
