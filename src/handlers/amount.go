package handlers

import (
	"fmt"

	"fundflow-server/src/util"
)

func parseAmount(raw, currency string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("amount is required")
	}
	return util.ParseAmount(raw, currency)
}

func parseAmounts(raw []string, currency string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, r := range raw {
		a, err := parseAmount(r, currency)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
