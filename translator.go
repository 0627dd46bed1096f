package bridair

import (
	"fmt"
	"math"
	"reflect"
)

// Implements a translator between a raw characteristic value and the value
// displayed for an entity.
// The display side is what gets published as entity state, while the
// characteristic side is what is read from, or written to, the accessory.
type ValueTranslator interface {
	ToDisplayValue(cValue any) (displayValue any, err error)
	ToCharacteristicValue(displayValue any) (cValue any, err error)
}

// Default pass-through "translator", where both displayed and Characteristic
// values are the same.
type PassthruTranslator struct{}

var defaultTranslator = &PassthruTranslator{}

func (p *PassthruTranslator) ToDisplayValue(v any) (any, error)        { return v, nil }
func (p *PassthruTranslator) ToCharacteristicValue(v any) (any, error) { return v, nil }

// Chains another Translator to transform values further.
// You can chain another Translator on the DisplaySide or the CharacteristicSide:
//
//	Display   -- ToCharacteristicValue() -->  Characteristic
//	 Value        <--- ToDisplayValue() ---        Value
type ChainedTranslator struct{ DisplaySide, CharacteristicSide ValueTranslator }

func (t *ChainedTranslator) ToDisplayValue(cVal any) (any, error) {
	v, err := t.CharacteristicSide.ToDisplayValue(cVal)
	if err != nil {
		return v, err
	}
	return t.DisplaySide.ToDisplayValue(v)
}

func (t *ChainedTranslator) ToCharacteristicValue(dVal any) (any, error) {
	v, err := t.DisplaySide.ToCharacteristicValue(dVal)
	if err != nil {
		return v, err
	}
	return t.CharacteristicSide.ToCharacteristicValue(v)
}

var ErrTranslationError = fmt.Errorf("cannot translate value")

// Rounds numeric Characteristic values to a fixed number of decimal places.
type RoundingTranslator struct{ Places int }

func (t *RoundingTranslator) ToDisplayValue(cVal any) (any, error) {
	f, ok := valToFloat64(cVal)
	if !ok {
		return nil, ErrTranslationError
	}
	return roundTo(f, t.Places), nil
}

func (t *RoundingTranslator) ToCharacteristicValue(dVal any) (any, error) {
	f, ok := valToFloat64(dVal)
	if !ok {
		return nil, ErrTranslationError
	}
	return f, nil
}

// Converts whole-number Characteristic values to int.
// JSON decoding hands us float64 for every number, so 3.0 becomes 3.
type IntTranslator struct{}

func (t *IntTranslator) ToDisplayValue(cVal any) (any, error) {
	i, ok := valToInt(cVal)
	if !ok {
		return nil, ErrTranslationError
	}
	return i, nil
}

func (t *IntTranslator) ToCharacteristicValue(dVal any) (any, error) {
	return t.ToDisplayValue(dVal)
}

// Translates an integer enum Characteristic value to a label.
// Integers missing from the EnumMap do not translate.
// In the other direction, both labels and integers are accepted; integers are
// passed through unchecked so out-of-range values can still be written.
type EnumTranslator struct{ EnumMap map[int]string }

func (t *EnumTranslator) ToDisplayValue(cVal any) (any, error) {
	i, ok := valToInt(cVal)
	if !ok {
		return nil, ErrTranslationError
	}
	if label, ok := t.EnumMap[i]; ok {
		return label, nil
	}
	return nil, ErrTranslationError
}

func (t *EnumTranslator) ToCharacteristicValue(dVal any) (any, error) {
	if sVal, ok := dVal.(string); ok {
		for k, v := range t.EnumMap {
			if v == sVal {
				return k, nil
			}
		}
		return nil, ErrTranslationError
	}

	if i, ok := valToInt(dVal); ok {
		return i, nil
	}
	return nil, ErrTranslationError
}

func roundTo(f float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(f*p) / p
}

// Converts numeric values to float64, if possible
// Returns the converted float64 value and a bool indicating if it was successful.
func valToFloat64(v any) (float64, bool) {
	val := reflect.ValueOf(v)
	switch {
	case val.CanInt():
		return float64(val.Int()), true
	case val.CanUint():
		return float64(val.Uint()), true
	case val.CanFloat():
		return val.Float(), true
	}
	return 0, false
}

// Converts numeric values with no fractional part to int
func valToInt(v any) (int, bool) {
	f, ok := valToFloat64(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
