package parser

// TrainEvent is one JSONL metric record emitted on the trainer's stdout.
// Fields the trainer did not include stay at their zero value; Step uses -1
// so step 0 is distinguishable from "absent".
type TrainEvent struct {
	Event string  `json:"event"`
	Step  int     `json:"step"`
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
	LR    float64 `json:"lr"`
	Ckpt  string  `json:"ckpt"`
}

// TrainResult aggregates everything the parser learned from one run's
// stdout stream.
type TrainResult struct {
	FinalLoss      float64
	HasLoss        bool
	LastStep       int // -1 when no step was ever reported
	LastEpoch      int
	CheckpointPath string
	EffectiveLR    float64
	Events         int
}
