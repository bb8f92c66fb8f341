package main

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestParseStations(t *testing.T) {
	input := `id,name,latitude,longitude,basin,type
GNG-VNS,Ganga at Varanasi,25.3176,83.0062,Ganga,river
YMN-DEL,Yamuna at Delhi,28.6139,77.2090
bad-lat,Nowhere,123,80,,
,Missing id,20,80
short,row
`
	stations, skipped, err := parseStations(strings.NewReader(input), zap.NewNop())
	if err != nil {
		t.Fatalf("parseStations() error = %v", err)
	}

	if len(stations) != 2 {
		t.Fatalf("parseStations() returned %d stations, want 2", len(stations))
	}
	if skipped != 3 {
		t.Errorf("parseStations() skipped = %d, want 3", skipped)
	}

	first := stations[0]
	if first.ID != "GNG-VNS" || first.Basin != "Ganga" || first.Type != "river" || !first.Active {
		t.Errorf("parseStations()[0] = %+v", first)
	}
	if stations[1].Basin != "" {
		t.Errorf("parseStations()[1].Basin = %q, want empty", stations[1].Basin)
	}
}

func TestParseStations_EmptyInput(t *testing.T) {
	if _, _, err := parseStations(strings.NewReader(""), zap.NewNop()); err == nil {
		t.Error("parseStations() should fail without a header")
	}
}
