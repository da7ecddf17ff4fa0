package wire

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

func TestEncodeDecode_KeepsIdentityCellAndAttrs(t *testing.T) {
	in := []model.Entity{{
		Kind:     model.KindToilets,
		ID:       42,
		Location: orb.Point{18.07, 59.33},
		Cell:     "u6sce0",
		Attrs:    map[string]string{"name": "Central", "fee": "no"},
	}}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Decode(b, model.KindToilets)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d entities", len(out))
	}
	got := out[0]
	if got.ID != 42 || got.Cell != "u6sce0" || got.Kind != model.KindToilets {
		t.Fatalf("identity lost: %+v", got)
	}
	if !got.Location.Equal(orb.Point{18.07, 59.33}) {
		t.Fatalf("location = %v", got.Location)
	}
	if got.Attrs["name"] != "Central" || got.Attrs["fee"] != "no" {
		t.Fatalf("attrs = %v", got.Attrs)
	}
	if _, ok := got.Attrs["kind"]; ok {
		t.Fatal("reserved property leaked into attrs")
	}
}

func TestMarshal_EmptyIsEmptyArray(t *testing.T) {
	b, err := Marshal(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"features":[]`) {
		t.Fatalf("body = %s", b)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":   `{`,
		"line":       `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"id":1}}]}`,
		"missing id": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}]}`,
		"bad id":     `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"id":"x"}}]}`,
	}
	for name, body := range cases {
		if _, err := Decode([]byte(body), model.KindStations); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecode_StringIDAndNonStringAttr(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"id":"7","cell":"s","capacity":12}}]}`
	out, err := Decode([]byte(body), model.KindBicycleParkings)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out[0].ID != 7 || out[0].Attrs["capacity"] != "12" {
		t.Fatalf("got %+v", out[0])
	}
}
