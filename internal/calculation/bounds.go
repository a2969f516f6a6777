package calculation

import (
	"fmt"

	apperrors "github.com/jwalitptl/epts-reports/pkg/errors"
)

// SuppressionThreshold is the viral load, in copies/mL, below which a result counts as suppressed.
const SuppressionThreshold = 1000.0

// LookbackMonths is the length of the viral-load window ending at the evaluation instant.
const LookbackMonths = 12

// Bounds are the month windows used by the routine viral-load criteria.
type Bounds struct {
	// MonthsOnArt, when positive, requires at least that many months on ART at the evaluation instant.
	MonthsOnArt int `json:"months_on_art"`
	// ArtLowerLimit1 and ArtUpperLimit1 bound months from ART start to a viral load, (lower, upper].
	ArtLowerLimit1 int `json:"art_lower_limit_1"`
	ArtUpperLimit1 int `json:"art_upper_limit_1"`
	// ArtLowerLimit2 and ArtUpperLimit2 bound months between consecutive viral loads, [lower, upper].
	ArtLowerLimit2 int `json:"art_lower_limit_2"`
	ArtUpperLimit2 int `json:"art_upper_limit_2"`
}

func DefaultBounds() Bounds {
	return Bounds{
		ArtLowerLimit1: 6,
		ArtUpperLimit1: 9,
		ArtLowerLimit2: 12,
		ArtUpperLimit2: 15,
	}
}

func (b Bounds) Validate() error {
	switch {
	case b.MonthsOnArt < 0 || b.ArtLowerLimit1 < 0 || b.ArtLowerLimit2 < 0:
		return apperrors.BadRequest("bounds must not be negative", nil)
	case b.ArtLowerLimit1 > b.ArtUpperLimit1:
		return apperrors.BadRequest(fmt.Sprintf("art_lower_limit_1 (%d) is greater than art_upper_limit_1 (%d)", b.ArtLowerLimit1, b.ArtUpperLimit1), nil)
	case b.ArtLowerLimit2 > b.ArtUpperLimit2:
		return apperrors.BadRequest(fmt.Sprintf("art_lower_limit_2 (%d) is greater than art_upper_limit_2 (%d)", b.ArtLowerLimit2, b.ArtUpperLimit2), nil)
	}
	return nil
}

// BoundsOverride carries caller-supplied bounds; unset fields keep the base value.
type BoundsOverride struct {
	MonthsOnArt    *int `json:"months_on_art,omitempty"`
	ArtLowerLimit1 *int `json:"art_lower_limit_1,omitempty"`
	ArtUpperLimit1 *int `json:"art_upper_limit_1,omitempty"`
	ArtLowerLimit2 *int `json:"art_lower_limit_2,omitempty"`
	ArtUpperLimit2 *int `json:"art_upper_limit_2,omitempty"`
}

func (o *BoundsOverride) Apply(base Bounds) Bounds {
	if o == nil {
		return base
	}
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.MonthsOnArt, o.MonthsOnArt)
	set(&base.ArtLowerLimit1, o.ArtLowerLimit1)
	set(&base.ArtUpperLimit1, o.ArtUpperLimit1)
	set(&base.ArtLowerLimit2, o.ArtLowerLimit2)
	set(&base.ArtUpperLimit2, o.ArtUpperLimit2)
	return base
}
