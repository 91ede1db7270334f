package useralerts

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/modules/marketdata"
)

// equalityEpsilon bounds == and != comparisons on floating point values.
const equalityEpsilon = 1e-4

// FieldResolver resolves indicator condition fields to current values.
// *marketdata.Engine is the production implementation.
type FieldResolver interface {
	Resolve(ctx context.Context, symbol, venue string, field domain.ConditionField, period int) (float64, error)
}

// Outcome is the result of evaluating one alert against one snapshot.
type Outcome struct {
	Triggered bool
	// Value is the first condition's resolved value, recorded in the
	// alert's execution history.
	Value float64
	// Insufficient marks an evaluation that could not complete because the
	// indicator history was too short. Not a failure: the alert simply
	// does not trigger.
	Insufficient bool
}

// Evaluator resolves condition fields and applies operator semantics,
// including crossing detection against the persisted previous observation.
type Evaluator struct {
	indicators FieldResolver
	previous   *PreviousValues
	clock      clock.Clock
	log        zerolog.Logger
}

// NewEvaluator creates the condition evaluator.
func NewEvaluator(indicators FieldResolver, previous *PreviousValues, clk clock.Clock, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		indicators: indicators,
		previous:   previous,
		clock:      clk,
		log:        log.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate resolves every condition and combines them with the alert's
// logical operator. All conditions are resolved even under OR, so crossing
// state stays current for conditions that did not decide the outcome.
func (e *Evaluator) Evaluate(ctx context.Context, alert *domain.UserAlert, snap *domain.MarketSnapshot) (Outcome, error) {
	var out Outcome
	results := make([]bool, len(alert.Conditions))

	for i, cond := range alert.Conditions {
		current, err := e.resolveField(ctx, alert, cond, snap)
		if marketdata.IsInsufficientData(err) {
			return Outcome{Insufficient: true}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		if i == 0 {
			out.Value = current
		}

		satisfied, err := e.compare(alert.ID, i, cond, current)
		if err != nil {
			return Outcome{}, err
		}
		results[i] = satisfied
	}

	out.Triggered = combine(alert.LogicalOperator, results)
	return out, nil
}

func (e *Evaluator) resolveField(ctx context.Context, alert *domain.UserAlert,
	cond domain.Condition, snap *domain.MarketSnapshot) (float64, error) {

	switch cond.Field {
	case domain.FieldPrice:
		return snap.Price, nil
	case domain.FieldVolume:
		return snap.Volume, nil
	case domain.FieldChange:
		return snap.Change, nil
	case domain.FieldChangePercent:
		return snap.ChangePercent, nil
	case domain.FieldMarketCap:
		if snap.MarketCap == nil {
			// The feed does not supply market cap for every venue; treat
			// it like missing indicator history.
			return 0, marketdata.ErrInsufficientData
		}
		return *snap.MarketCap, nil
	case domain.FieldCustom:
		return EvaluateExpression(cond.Expression, snapshotEnv(snap))
	}

	if cond.Field.Indicator() {
		return e.indicators.Resolve(ctx, alert.Symbol, alert.Venue, cond.Field, cond.Period)
	}
	return 0, fmt.Errorf("unresolvable condition field %q", cond.Field)
}

// compare applies the operator. Crossing operators consult and then update
// the persisted previous observation; with no previous row the condition is
// unsatisfied, so a freshly created alert never fires on its first look.
func (e *Evaluator) compare(alertID int64, conditionIndex int, cond domain.Condition, current float64) (bool, error) {
	if cond.Operator.Crossing() {
		prev, ok, err := e.previous.Get(alertID, conditionIndex)
		if err != nil {
			return false, err
		}
		if err := e.previous.Put(alertID, conditionIndex, current, e.clock.Now()); err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if cond.Operator == domain.OpCrossesAbove {
			return prev <= cond.Value && current > cond.Value, nil
		}
		return prev >= cond.Value && current < cond.Value, nil
	}

	switch cond.Operator {
	case domain.OpGreater:
		return current > cond.Value, nil
	case domain.OpLess:
		return current < cond.Value, nil
	case domain.OpGreaterEqual:
		return current >= cond.Value, nil
	case domain.OpLessEqual:
		return current <= cond.Value, nil
	case domain.OpEqual:
		return math.Abs(current-cond.Value) < equalityEpsilon, nil
	case domain.OpNotEqual:
		return math.Abs(current-cond.Value) >= equalityEpsilon, nil
	case domain.OpBetween, domain.OpNotBetween:
		if cond.SecondValue == nil {
			return false, domain.NewValidationError("between operators require a second value", "conditions.second_value")
		}
		lo := math.Min(cond.Value, *cond.SecondValue)
		hi := math.Max(cond.Value, *cond.SecondValue)
		inside := current >= lo && current <= hi
		if cond.Operator == domain.OpBetween {
			return inside, nil
		}
		return !inside, nil
	}

	return false, fmt.Errorf("unresolvable operator %q", cond.Operator)
}

func combine(op domain.LogicalOperator, results []bool) bool {
	if len(results) == 0 {
		return false
	}
	if op == domain.LogicalOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}
