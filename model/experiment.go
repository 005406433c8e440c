package model

// Experiment is the resolved pairing of a matched audience with the variant
// chosen for this user. It is the unit persisted in assignments and reported
// to the server.
type Experiment struct {
	ID      string  `json:"experimentId"`
	GroupID string  `json:"groupId"`
	Variant Variant `json:"variant"`
}

// Assignment records which variant an experiment resolved to on this device.
// SentToServer flips from false to true exactly once, after a successful
// confirmation round-trip. Assignments are never deleted except on full reset.
type Assignment struct {
	ExperimentID string  `json:"experimentId"`
	Variant      Variant `json:"variant"`
	SentToServer bool    `json:"isSentToServer"`
}

// ConfirmableAssignment is an assignment decided locally that still owes the
// server a confirmation round-trip before it becomes authoritative.
type ConfirmableAssignment struct {
	ExperimentID string  `json:"experimentId"`
	Variant      Variant `json:"variant"`
}
