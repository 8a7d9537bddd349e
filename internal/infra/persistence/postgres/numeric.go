package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts a decimal into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

// numericFromOptional converts an optional decimal; nil maps to SQL NULL.
func numericFromOptional(ptr *decimal.Decimal) (pgtype.Numeric, error) {
	if ptr == nil {
		return pgtype.Numeric{}, nil
	}
	return numericFromDecimal(*ptr)
}

// bindNumerics adds each decimal to args under its name.
func bindNumerics(args pgx.NamedArgs, values map[string]decimal.Decimal) error {
	for name, value := range values {
		numeric, err := numericFromDecimal(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		args[name] = numeric
	}
	return nil
}

// decimalFromText parses a NUMERIC column selected as text.
func decimalFromText(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return value, nil
}

// decimalFromNullable parses a nullable NUMERIC column selected as text.
func decimalFromNullable(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimalFromText(*raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// decimalsFromText parses several text columns, failing on the first bad one.
func decimalsFromText(pairs map[*decimal.Decimal]string) error {
	for dst, raw := range pairs {
		value, err := decimalFromText(raw)
		if err != nil {
			return err
		}
		*dst = value
	}
	return nil
}
