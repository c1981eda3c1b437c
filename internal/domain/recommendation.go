package domain

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

type PolicyMode string

const (
	ModePrepagoEscrow         PolicyMode = "Prepago/Escrow"
	ModeAnticipoContraentrega PolicyMode = "Anticipo+Contraentrega"
	ModeNormal                PolicyMode = "Normal/Contraentrega"
)

// Recommendation is the per-invoice collection policy. Anticipo is a whole
// percentage 0..100; EL is expected loss in currency units.
type Recommendation struct {
	Modo     PolicyMode `json:"modo"`
	Anticipo int        `json:"anticipo"`
	Escrow   bool       `json:"escrow"`
	Stop     bool       `json:"stop"`
	EL       float64    `json:"el"`
}

// DecodeRecommendation parses a stored recommendation, rejecting unknown keys.
// An empty or null document yields nil.
func DecodeRecommendation(raw []byte) (*Recommendation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var r Recommendation
	if err := dec.Decode(&r); err != nil {
		return nil, eris.Wrap(err, "decode recomendacion_json")
	}
	return &r, nil
}
