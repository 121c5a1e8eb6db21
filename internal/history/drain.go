package history

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when fewer than two usable readings exist.
var ErrInsufficientData = errors.New("not enough discharging readings")

// DrainEstimate is a least-squares fit of level over time for the latest
// discharge run.
type DrainEstimate struct {
	// PercentPerHour is positive while the battery is draining.
	PercentPerHour float64 `json:"percent_per_hour"`
	// HoursRemaining extrapolates the fit to level 0; zero when not draining.
	HoursRemaining float64 `json:"hours_remaining"`
	RSquared       float64 `json:"r_squared"`
	Samples        int     `json:"samples"`
}

// DrainRate fits the readings after the most recent charging or
// disconnected reading. readings must be oldest first.
func DrainRate(readings []Reading) (DrainEstimate, error) {
	start := 0
	for i, r := range readings {
		if r.Charging || r.Level <= 0 {
			start = i + 1
		}
	}
	run := readings[start:]
	if len(run) < 2 || !run[len(run)-1].At.After(run[0].At) {
		return DrainEstimate{}, ErrInsufficientData
	}

	t0 := run[0].At
	xs := make([]float64, len(run))
	ys := make([]float64, len(run))
	for i, r := range run {
		xs[i] = r.At.Sub(t0).Hours()
		ys[i] = float64(r.Level)
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	est := DrainEstimate{
		PercentPerHour: -beta,
		RSquared:       stat.RSquared(xs, ys, nil, alpha, beta),
		Samples:        len(run),
	}
	if beta < 0 {
		last := xs[len(xs)-1]
		predicted := alpha + beta*last
		if remaining := predicted / -beta; remaining > 0 {
			est.HoursRemaining = remaining
		}
	}
	return est, nil
}
