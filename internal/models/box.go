package models

// Box is the atomic collaborative unit: a positioned, editable text element.
// The id is assigned by the creating client and is unique within its room.
type Box struct {
	ID   string  `json:"id"`
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
	Text string  `json:"text"`
}

// Position is a (top, left) offset within a room's canvas.
type Position struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}
