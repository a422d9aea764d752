package moisture

import (
	"math"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

// Thresholds are calibrated raw readings. A capacitive probe reads higher the
// drier the soil, so Air > Dry > Moist > Wet > Water.
type Thresholds struct {
	Air   float64
	Dry   float64
	Moist float64
	Wet   float64
	Water float64
}

var DefaultThresholds = Thresholds{Air: 27800, Dry: 19000, Moist: 13000, Wet: 5000, Water: 0}

// Classify maps a raw reading onto a moisture percentage and status. Each band
// interpolates linearly between its two boundaries:
// air 0%, dry 0-30%, moist 31-70%, wet 71-90%, water 91-100%.
func (t Thresholds) Classify(v float64) (int, model.Status) {
	var (
		percent float64
		status  model.Status
	)

	switch {
	case v > t.Air:
		percent, status = 0, model.StatusAir
	case v > t.Dry:
		percent, status = 30*(t.Air-v)/(t.Air-t.Dry), model.StatusDry
	case v > t.Moist:
		percent, status = 31+39*(t.Dry-v)/(t.Dry-t.Moist), model.StatusMoist
	case v > t.Wet:
		percent, status = 71+19*(t.Moist-v)/(t.Moist-t.Wet), model.StatusWet
	default:
		percent, status = 91+9*(t.Wet-v)/(t.Wet-t.Water), model.StatusWater
	}

	return clampPercent(int(math.Round(percent))), status
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
