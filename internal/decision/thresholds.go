package decision

// Thresholds 汇总两套策略的全部阈值。两套阈值独立调参，不要合并。
type Thresholds struct {
	// 交互式分析（priority 分级）
	HighShare     float64 `toml:"high_share"`
	HighEdge      int     `toml:"high_edge"`
	MediumDrift   float64 `toml:"medium_drift"`
	MediumEdge    int     `toml:"medium_edge"`
	LowDrift      float64 `toml:"low_drift"`
	LowEdge       int     `toml:"low_edge"`
	CoarseLowEdge bool    `toml:"coarse_low_edge"`

	// 回本时间（小时）
	NeverWorthHours     float64 `toml:"never_worth_hours"`
	HoldHours           float64 `toml:"hold_hours"`
	HighMaxHours        float64 `toml:"high_max_hours"`
	MediumMaxHours      float64 `toml:"medium_max_hours"`
	MediumOptionalHours float64 `toml:"medium_optional_hours"`

	// 自动打分
	AutoHighScore          float64 `toml:"auto_high_score"`
	AutoMediumScore        float64 `toml:"auto_medium_score"`
	AutoMediumMaxBreakEven float64 `toml:"auto_medium_max_break_even"`
	MinOpportunityRatio    float64 `toml:"min_opportunity_ratio"`

	// 成本与收益
	TxCount                int     `toml:"tx_count"`
	FeePerTxNative         float64 `toml:"fee_per_tx_native"`
	FallbackReferencePrice float64 `toml:"fallback_reference_price"`
	ProjectedImprovement   float64 `toml:"projected_improvement"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HighShare:   0.40,
		HighEdge:    5,
		MediumDrift: 10,
		MediumEdge:  10,
		LowDrift:    5,
		LowEdge:     15,

		NeverWorthHours:     365 * 24,
		HoldHours:           30 * 24,
		HighMaxHours:        7 * 24,
		MediumMaxHours:      3 * 24,
		MediumOptionalHours: 14 * 24,

		AutoHighScore:          60,
		AutoMediumScore:        40,
		AutoMediumMaxBreakEven: 48,
		MinOpportunityRatio:    1.0,

		TxCount:                2,
		FeePerTxNative:         0.00025,
		FallbackReferencePrice: 150,
		ProjectedImprovement:   0.15,
	}
}

// WithDefaults fills zero fields from DefaultThresholds. Booleans are kept as-is.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	fillF := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fillI := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fillF(&t.HighShare, d.HighShare)
	fillI(&t.HighEdge, d.HighEdge)
	fillF(&t.MediumDrift, d.MediumDrift)
	fillI(&t.MediumEdge, d.MediumEdge)
	fillF(&t.LowDrift, d.LowDrift)
	fillI(&t.LowEdge, d.LowEdge)
	fillF(&t.NeverWorthHours, d.NeverWorthHours)
	fillF(&t.HoldHours, d.HoldHours)
	fillF(&t.HighMaxHours, d.HighMaxHours)
	fillF(&t.MediumMaxHours, d.MediumMaxHours)
	fillF(&t.MediumOptionalHours, d.MediumOptionalHours)
	fillF(&t.AutoHighScore, d.AutoHighScore)
	fillF(&t.AutoMediumScore, d.AutoMediumScore)
	fillF(&t.AutoMediumMaxBreakEven, d.AutoMediumMaxBreakEven)
	fillF(&t.MinOpportunityRatio, d.MinOpportunityRatio)
	fillI(&t.TxCount, d.TxCount)
	fillF(&t.FeePerTxNative, d.FeePerTxNative)
	fillF(&t.FallbackReferencePrice, d.FallbackReferencePrice)
	fillF(&t.ProjectedImprovement, d.ProjectedImprovement)
	return t
}
