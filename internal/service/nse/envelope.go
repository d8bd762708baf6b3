package nse

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/util"
)

type envelope struct {
	Records *struct {
		UnderlyingValue util.LooseNumber `json:"underlyingValue"`
		ExpiryDates     []string         `json:"expiryDates"`
		Data            []nseRecord      `json:"data"`
		Timestamp       string           `json:"timestamp"`
	} `json:"records"`
}

type nseRecord struct {
	ExpiryDate  string           `json:"expiryDate"`
	StrikePrice util.LooseNumber `json:"strikePrice"`
	CE          *nseLeg          `json:"CE"`
	PE          *nseLeg          `json:"PE"`
}

type nseLeg struct {
	ChangeInOpenInterest util.LooseNumber `json:"changeinOpenInterest"`
	TotalTradedVolume    util.LooseNumber `json:"totalTradedVolume"`
	LastPrice            util.LooseNumber `json:"lastPrice"`
	OpenInterest         util.LooseNumber `json:"openInterest"`
	ImpliedVolatility    util.LooseNumber `json:"impliedVolatility"`
	Delta                util.LooseNumber `json:"delta"`
	Gamma                util.LooseNumber `json:"gamma"`
	Theta                util.LooseNumber `json:"theta"`
	Vega                 util.LooseNumber `json:"vega"`
}

func (l *nseLeg) toLeg() *models.Leg {
	if l == nil {
		return nil
	}
	return &models.Leg{
		OI:       max(0, l.OpenInterest.Int()),
		ChangeOI: l.ChangeInOpenInterest.Int(),
		Volume:   max(0, l.TotalTradedVolume.Int()),
		LTP:      l.LastPrice.Float(),
		IV:       l.ImpliedVolatility.Float(),
		Greeks: models.Greeks{
			Delta: l.Delta.Float(),
			Gamma: l.Gamma.Float(),
			Theta: l.Theta.Float(),
			Vega:  l.Vega.Float(),
		},
	}
}

// ParseChain validates and normalizes an option-chain envelope. A missing records,
// underlyingValue, expiryDates or data key is a ParseError. Records whose expiry
// cannot be parsed are dropped.
func ParseChain(body []byte, symbol string, kind models.ChainKind, fetchedAt time.Time) (*models.RawChain, error) {
	op := "parse " + string(kind) + " chain"

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fault.Parse(op, fmt.Errorf("decode envelope: %w", err)).WithSymbol(symbol)
	}
	switch {
	case env.Records == nil:
		return nil, fault.Parse(op, errors.New("missing records")).WithSymbol(symbol)
	case !env.Records.UnderlyingValue.Present():
		return nil, fault.Parse(op, errors.New("missing records.underlyingValue")).WithSymbol(symbol)
	case env.Records.ExpiryDates == nil:
		return nil, fault.Parse(op, errors.New("missing records.expiryDates")).WithSymbol(symbol)
	case env.Records.Data == nil:
		return nil, fault.Parse(op, errors.New("missing records.data")).WithSymbol(symbol)
	}

	chain := &models.RawChain{
		Symbol:          symbol,
		Kind:            kind,
		UnderlyingValue: env.Records.UnderlyingValue.Float(),
		FetchedAt:       fetchedAt,
	}
	for _, s := range env.Records.ExpiryDates {
		if t, ok := util.ParseExpiry(s); ok {
			chain.ExpiryDates = append(chain.ExpiryDates, t)
		}
	}
	chain.Records = make([]models.RawRecord, 0, len(env.Records.Data))
	for _, r := range env.Records.Data {
		exp, ok := util.ParseExpiry(r.ExpiryDate)
		if !ok {
			continue
		}
		chain.Records = append(chain.Records, models.RawRecord{
			Expiry: exp,
			Strike: r.StrikePrice.Int(),
			CE:     r.CE.toLeg(),
			PE:     r.PE.toLeg(),
		})
	}
	return chain, nil
}
