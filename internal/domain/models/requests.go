package models

// Requests for the status API. Defined in domain for consistency and reuse.

type HistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" default:"NIFTY" validate:"required,max=32"`
	Bucket string `query:"bucket" json:"bucket" default:"current_week" validate:"oneof=current_week next_week monthly"`
	Strike int64  `query:"strike" json:"strike" validate:"required,gt=0"`
	Depth  int    `query:"depth" json:"depth" default:"3" validate:"gte=1,lte=50"`
}

type DiscoveriesRequest struct {
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type ArchiveRequest struct {
	Symbol string `query:"symbol" json:"symbol" default:"NIFTY" validate:"required,max=32"`
	Bucket string `query:"bucket" json:"bucket" default:"current_week" validate:"oneof=current_week next_week monthly"`
	From   string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit  int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}
