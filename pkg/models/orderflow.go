package models

// OrderFlowSnapshot is a rolling view of aggressor volume
type OrderFlowSnapshot struct {
	BuyVolume     int64     `json:"buy_volume"`
	SellVolume    int64     `json:"sell_volume"`
	Delta         int64     `json:"delta"`
	Bias          Direction `json:"bias"`
	WindowSeconds float64   `json:"window_seconds"`
	TickCount     int       `json:"tick_count"`
}
