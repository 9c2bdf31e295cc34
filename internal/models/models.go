package models

// WellRecord is one row returned by the getWellData endpoint.
type WellRecord struct {
	WellName string  `json:"wellname"`
	MD       float64 `json:"md"` // mid-depth, m
	TH       float64 `json:"th"` // wellhead temperature, K
	TB       float64 `json:"tb"` // bottom-hole temperature, K
	RG       float64 `json:"rg"`
	PC       float64 `json:"pc"` // MPa
	TC       float64 `json:"tc"` // K
	N2       float64 `json:"n2"`
	CO2      float64 `json:"co2"`
	H2S      float64 `json:"h2s"`
}

// PVTResult is one element of a calculateBatchPVT response.
type PVTResult struct {
	Z       float64 `json:"z"`
	POverZ  float64 `json:"p_over_z"`
	Bg      float64 `json:"bg"`
	Niandu  float64 `json:"niandu"`
	Cg      float64 `json:"cg"`
	Density float64 `json:"density"`
}

// PbResult is one element of a calculateBatchPb response.
type PbResult struct {
	Pwbs   float64 `json:"pwbs"`
	Z      float64 `json:"z"`
	POverZ float64 `json:"p_over_z"`
	Bg     float64 `json:"bg"`
	Niandu float64 `json:"niandu"`
	Cg     float64 `json:"cg"`
}
