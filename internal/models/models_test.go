package models

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

func TestKVEntry_Fields(t *testing.T) {
	typ := reflect.TypeOf(KVEntry{})
	assertGormTag(t, typ, "Key", "primaryKey")
	assertGormTag(t, typ, "Value", "type:text")
	if got := (KVEntry{}).TableName(); got != "kv_entries" {
		t.Errorf("TableName() = %q, want %q", got, "kv_entries")
	}
}

// ---------------------------------------------------------------------------
// FlexID
// ---------------------------------------------------------------------------

func TestFlexID_UnmarshalNumberAndString(t *testing.T) {
	var v struct {
		A FlexID `json:"a"`
		B FlexID `json:"b"`
		C FlexID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 42, "b": "abc-1", "c": null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != "42" {
		t.Errorf("A = %q, want %q", v.A, "42")
	}
	if v.B != "abc-1" {
		t.Errorf("B = %q, want %q", v.B, "abc-1")
	}
	if v.C != "" {
		t.Errorf("C = %q, want empty", v.C)
	}
}

func TestFlexID_MarshalKeepsNumbers(t *testing.T) {
	data, err := json.Marshal(map[string]FlexID{"n": "7", "s": "x7"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, `"n":7`) {
		t.Errorf("marshal = %s, want numeric n", got)
	}
	if !strings.Contains(got, `"s":"x7"`) {
		t.Errorf("marshal = %s, want string s", got)
	}
}

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

func TestMessage_Optimistic(t *testing.T) {
	if !(Message{TempID: TempIDPrefix + "1"}).Optimistic() {
		t.Error("temp message should be optimistic")
	}
	if (Message{ID: "1", TempID: TempIDPrefix + "1"}).Optimistic() {
		t.Error("message with durable id should not be optimistic")
	}
	if (Message{TempID: "other"}).Optimistic() {
		t.Error("temp id without prefix should not be optimistic")
	}
}

func TestMessage_Renderable(t *testing.T) {
	cases := []struct {
		msg  Message
		want bool
	}{
		{Message{Body: "oi", Sender: RoleClient}, true},
		{Message{Body: "   ", Sender: RoleClient}, false},
		{Message{Body: "oi"}, false},
		{Message{}, false},
	}
	for _, c := range cases {
		if got := c.msg.Renderable(); got != c.want {
			t.Errorf("Renderable(%+v) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestMessage_DecodeBackendShape(t *testing.T) {
	raw := `{"id_mensagem": 9, "id_encomenda": 3, "mensagem": "chegando", "remetente": "entregador", "criado_em": "2024-05-01T12:30:00Z", "lida": true}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.ID != "9" || m.OrderID != "3" || m.Body != "chegando" || m.Sender != RoleCourier || !m.Read {
		t.Errorf("decoded = %+v", m)
	}
	if m.CreatedAt.Hour() != 12 {
		t.Errorf("CreatedAt = %v, want 12:30", m.CreatedAt)
	}
}

// ---------------------------------------------------------------------------
// Locations
// ---------------------------------------------------------------------------

func TestLatLng_Valid(t *testing.T) {
	if !(LatLng{Lat: -23.5, Lng: -46.6}).Valid() {
		t.Error("sao paulo should be valid")
	}
	if (LatLng{Lat: math.NaN(), Lng: 0}).Valid() {
		t.Error("NaN should be invalid")
	}
	if (LatLng{Lat: 91, Lng: 0}).Valid() {
		t.Error("lat 91 should be invalid")
	}
}

func TestBoundsOf(t *testing.T) {
	b, ok := BoundsOf([]LatLng{{Lat: 1, Lng: 5}, {Lat: -2, Lng: 7}, {Lat: 0, Lng: 6}})
	if !ok {
		t.Fatal("expected bounds")
	}
	want := Bounds{MinLat: -2, MaxLat: 1, MinLng: 5, MaxLng: 7}
	if b != want {
		t.Errorf("BoundsOf = %+v, want %+v", b, want)
	}
	if _, ok := BoundsOf(nil); ok {
		t.Error("BoundsOf(nil) should report false")
	}
	if !want.Contains(LatLng{Lat: 0, Lng: 6}) || want.Contains(LatLng{Lat: 3, Lng: 6}) {
		t.Error("Contains mismatch")
	}
}
