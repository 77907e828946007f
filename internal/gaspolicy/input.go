package gaspolicy

import (
	"fmt"

	"github.com/org/sessionguard/internal/evm"
	"github.com/org/sessionguard/pkg/models"
)

// FromInput builds a validated policy for projectID from its wire or config
// form. Addresses and selectors are normalized; method entries may be
// Solidity signatures.
func FromInput(projectID string, in models.GasPolicyInput) (models.GasPolicy, error) {
	mode, err := ParseMode(in.Mode)
	if err != nil {
		return models.GasPolicy{}, err
	}
	contracts, err := evm.NormalizeAddresses(in.AllowedContracts)
	if err != nil {
		return models.GasPolicy{}, fmt.Errorf("allowed_contracts: %w", err)
	}
	methods, err := evm.ParseSelectors(in.AllowedMethods)
	if err != nil {
		return models.GasPolicy{}, fmt.Errorf("allowed_methods: %w", err)
	}
	p := models.GasPolicy{
		ProjectID:        projectID,
		Mode:             mode,
		DailyBudget:      in.DailyBudget,
		PerTxLimit:       in.PerTxLimit,
		AllowedContracts: contracts,
		AllowedMethods:   methods,
	}
	if err := Validate(p); err != nil {
		return models.GasPolicy{}, err
	}
	return p, nil
}
