package types

import (
	"fmt"
	"strings"
	"time"
)

// ReasonCode 为封闭集合。
type ReasonCode string

const (
	ReasonOutOfRange ReasonCode = "out_of_range"
	ReasonEfficiency ReasonCode = "efficiency"
	ReasonManual     ReasonCode = "manual"
	ReasonAutomatic  ReasonCode = "automatic"
	ReasonOther      ReasonCode = "other"
)

// ParseReasonCode maps unknown values to an error; empty input maps to other.
func ParseReasonCode(s string) (ReasonCode, error) {
	switch code := ReasonCode(strings.ToLower(strings.TrimSpace(s))); code {
	case ReasonOutOfRange, ReasonEfficiency, ReasonManual, ReasonAutomatic, ReasonOther:
		return code, nil
	case "":
		return ReasonOther, nil
	default:
		return ReasonOther, fmt.Errorf("unknown reason code %q", s)
	}
}

// RebalanceHistoryEntry 仅在真实执行后创建，只追加、不修改、不清理。
type RebalanceHistoryEntry struct {
	ID                 string     `json:"id"`
	Timestamp          time.Time  `json:"timestamp"`
	OldPositionID      string     `json:"old_position_id"`
	NewPositionID      string     `json:"new_position_id"`
	PoolID             string     `json:"pool_id"`
	Reason             ReasonCode `json:"reason"`
	ReasonText         string     `json:"reason_text,omitempty"`
	FeesClaimedUSD     float64    `json:"fees_claimed_usd"`
	TransactionCostUSD float64    `json:"transaction_cost_usd"`
	OldLower           int        `json:"old_lower"`
	OldUpper           int        `json:"old_upper"`
	NewLower           int        `json:"new_lower"`
	NewUpper           int        `json:"new_upper"`
	Signatures         []string   `json:"signatures,omitempty"`
}

// RebalanceOptions 传给外部执行器。
type RebalanceOptions struct {
	BinsPerSide int        `json:"bins_per_side"`
	SlippageBps int        `json:"slippage_bps"`
	Strategy    string     `json:"strategy"`
	ReasonCode  ReasonCode `json:"reason_code"`
	Reason      string     `json:"reason"`
}

// RebalanceResult 是外部执行器的返回。
type RebalanceResult struct {
	Success            bool     `json:"success"`
	NewPositionID      string   `json:"new_position_id"`
	NewLower           int      `json:"new_lower_bin"`
	NewUpper           int      `json:"new_upper_bin"`
	FeesClaimedUSD     float64  `json:"fees_claimed_usd"`
	TransactionCostUSD float64  `json:"transaction_cost_usd"`
	Signatures         []string `json:"signatures"`
	Error              string   `json:"error,omitempty"`
}
