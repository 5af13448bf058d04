package featureflag

type Flag string

const (
	FlagDisableCellPruning Flag = "DISABLE_CELL_PRUNING"
	FlagDisableLaser       Flag = "DISABLE_LASER"
	FlagDisableRanger      Flag = "DISABLE_RANGER"
	FlagDisableFiducial    Flag = "DISABLE_FIDUCIAL"
)
