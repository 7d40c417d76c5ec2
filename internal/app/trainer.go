package wrapper

import trainer "titrain-wrapper/internal/trainer"

type Trainer = trainer.Trainer

var selectTrainerFn = trainer.Select

func init() {
	trainer.SetLogFuncs(logWarn, logError)
}
