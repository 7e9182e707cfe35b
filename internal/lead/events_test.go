package lead

import (
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
)

func TestEncodeDecodeRawLead(t *testing.T) {
	body, err := Encode("place-1", RawLead{Name: "Padaria Sol Nascente", City: "Campinas"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ExternalID != "place-1" {
		t.Errorf("external id = %q", ev.ExternalID)
	}
	raw, ok := ev.Payload.(RawLead)
	if !ok {
		t.Fatalf("payload type = %T", ev.Payload)
	}
	if raw.City != "Campinas" {
		t.Errorf("city = %q", raw.City)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"kind":`},
		{"missing external id", `{"kind":"raw_lead","payload":{"name":"x","city":"y"}}`},
		{"missing payload", `{"kind":"raw_lead","external_id":"p"}`},
		{"null payload", `{"kind":"raw_lead","external_id":"p","payload":null}`},
		{"unknown kind", `{"kind":"weather","external_id":"p","payload":{}}`},
		{"raw lead without city", `{"kind":"raw_lead","external_id":"p","payload":{"name":"x"}}`},
		{"search without documents", `{"kind":"search_candidates","external_id":"p","payload":{"name":"x","city":"y"}}`},
		{"short registry number", `{"kind":"company_match","external_id":"p","payload":{"registry_number":"123","matcher":"search"}}`},
		{"unknown matcher", `{"kind":"company_match","external_id":"p","payload":{"registry_number":"12.345.678/0001-90","matcher":"guess"}}`},
		{"content without url", `{"kind":"extracted_content","external_id":"p","payload":{"title":"x"}}`},
		{"wrong field type", `{"kind":"raw_lead","external_id":"p","payload":{"name":5,"city":"y"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			if !errors.Is(err, apperrors.ErrMalformedInput) {
				t.Fatalf("err = %v, want ErrMalformedInput", err)
			}
		})
	}
}

func TestDecodeCompanyMatch(t *testing.T) {
	body := `{"kind":"company_match","external_id":"p","payload":{"registry_number":"12.345.678/0001-90","matcher":"directory","status":"ATIVA"}}`
	ev, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := ev.Payload.(CompanyMatch)
	if m.Matcher != MatcherDirectory || m.Status != "ATIVA" {
		t.Errorf("match = %+v", m)
	}
}

func TestEncodeValidates(t *testing.T) {
	if _, err := Encode("", RawLead{Name: "a", City: "b"}); !errors.Is(err, apperrors.ErrMalformedInput) {
		t.Errorf("empty external id: err = %v", err)
	}
	if _, err := Encode("p", ExtractedContent{}); !errors.Is(err, apperrors.ErrMalformedInput) {
		t.Errorf("invalid payload: err = %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"(19) 3232-1010", "551932321010", true},
		{"+55 19 99876-5432", "5519998765432", true},
		{"19998765432", "5519998765432", true},
		{"3232-1010", "", false},
		{"12345678901234", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizePhone(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
