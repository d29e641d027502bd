package models

// Requests for the scenario HTTP endpoints. Defined in domain for reuse by the
// REST and websocket handlers.

type FitRequest struct {
	Family string `query:"family" json:"family" default:"t" validate:"oneof=t"`
}

// SimulateRequest asks for PathCount paths along RegimePath, or along a
// generated path of Steps regimes starting at Start when RegimePath is empty.
// Regime ids are checked by the engine, not here, so a negative id surfaces
// as a precondition error.
type SimulateRequest struct {
	Products   []string `json:"products" validate:"unique,dive,required"`
	RegimePath []int    `json:"regime_path" validate:"required_without=Steps,max=100000"`
	Steps      int      `json:"steps" validate:"gte=0,lte=100000"`
	Start      int      `json:"start"`
	PathCount  int      `json:"path_count" default:"100" validate:"gte=1,lte=100000"`
	Seed       int64    `json:"seed"`
	Publish    bool     `json:"publish"`
}

// RegimePathIDs converts the wire path.
func (r *SimulateRequest) RegimePathIDs() []RegimeID {
	out := make([]RegimeID, len(r.RegimePath))
	for i, v := range r.RegimePath {
		out[i] = RegimeID(v)
	}
	return out
}
