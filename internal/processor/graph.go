package processor

import (
	"math"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// GraphProcessor implements the piecewise-linear Graph Evaluator:
// duty = interpolate(speed_profile, shaped_temp), clamped to
// the nearest endpoint outside the profile's range. It carries no
// per-profile state: the speed_profile itself is the only input besides
// the shaped temperature.
type GraphProcessor struct{}

func NewGraphProcessor() *GraphProcessor { return &GraphProcessor{} }

func (g *GraphProcessor) IsApplicable(data SpeedProfileData) bool {
	return data.Temp != nil
}

func (g *GraphProcessor) InitState(string)  {}
func (g *GraphProcessor) ClearState(string) {}

func (g *GraphProcessor) Process(data SpeedProfileData) SpeedProfileData {
	duty := Interpolate(data.Profile.SpeedProfile, *data.Temp)
	data.Duty = intPtr(duty)
	return data
}

// Interpolate evaluates a piecewise-linear speed profile at temp, clamping
// to the nearest endpoint outside the profile's range and rounding the
// result to the nearest integer, clamped to [0,100].
// points must be sorted and unique in x (model.Profile.Validate enforces
// this at configuration time).
func Interpolate(points []model.SpeedProfilePoint, temp float64) int {
	if len(points) == 0 {
		return 0
	}
	if temp <= points[0].Temp {
		return clampDuty(points[0].Duty)
	}
	last := points[len(points)-1]
	if temp >= last.Temp {
		return clampDuty(last.Duty)
	}
	for i := 1; i < len(points); i++ {
		p1, p2 := points[i-1], points[i]
		if temp <= p2.Temp {
			frac := (temp - p1.Temp) / (p2.Temp - p1.Temp)
			duty := float64(p1.Duty) + frac*float64(p2.Duty-p1.Duty)
			return clampDuty(int(math.Round(duty)))
		}
	}
	return clampDuty(last.Duty)
}

func clampDuty(d int) int {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}
